package stats

import (
	"errors"
	"io"

	"github.com/profiletools/mojo/internal/sample"
)

// EventSource is a pull-based stream of decoded events. mojo.Decoder
// satisfies it.
type EventSource interface {
	Next() (sample.Event, error)
}

// ErrNoMode indicates the stream carried no "mode" metadata before samples.
var ErrNoMode = errors.New("no mode metadata found in the stream")

// Load drains an event stream into the set of aggregates appropriate for
// the stream's profiling mode: cpu and wall captures produce one aggregate,
// memory captures produce the two polarities, and full captures produce all
// four.
func Load(src EventSource) (map[Type]*Stats, error) {
	var mode sample.Mode
	var buffered []sample.Sample
	for {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoMode
			}
			return nil, err
		}
		if m, ok := ev.(sample.Metadata); ok && m.Name == "mode" {
			parsed, err := sample.ParseMode(m.Value)
			if err != nil {
				return nil, err
			}
			mode = parsed
			break
		}
		// Samples before the mode entry are unusual but not invalid.
		if s, ok := ev.(sample.Sample); ok {
			buffered = append(buffered, s)
		}
	}

	profiles := make(map[Type]*Stats)
	switch mode {
	case sample.ModeFull:
		for _, t := range []Type{TypeCPU, TypeWall, TypeMemoryAlloc, TypeMemoryDealloc} {
			profiles[t] = New(t)
		}
	case sample.ModeMemory:
		profiles[TypeMemoryAlloc] = New(TypeMemoryAlloc)
		profiles[TypeMemoryDealloc] = New(TypeMemoryDealloc)
	case sample.ModeCPU:
		profiles[TypeCPU] = New(TypeCPU)
	default:
		profiles[TypeWall] = New(TypeWall)
	}

	update := func(s sample.Sample) {
		for _, profile := range profiles {
			profile.Update(s)
		}
	}
	for _, s := range buffered {
		update(s)
	}
	for {
		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return profiles, nil
			}
			return nil, err
		}
		if s, ok := ev.(sample.Sample); ok {
			update(s)
		}
	}
}
