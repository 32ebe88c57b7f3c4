package sample

import "fmt"

// Mode is the profiling metric configuration of a capture. It governs which
// metric events the sampler emits for each sample.
type Mode string

const (
	ModeCPU    Mode = "cpu"
	ModeWall   Mode = "wall"
	ModeMemory Mode = "memory"
	ModeFull   Mode = "full"
)

// ParseMode parses the value of the "mode" metadata entry.
func ParseMode(value string) (Mode, error) {
	switch m := Mode(value); m {
	case ModeCPU, ModeWall, ModeMemory, ModeFull:
		return m, nil
	}
	return "", fmt.Errorf("unknown profiling mode %q", value)
}
