package sample

import (
	"fmt"
	"strings"

	"github.com/profiletools/mojo/internal/frame"
)

type (
	// Event is either a Metadata or a Sample, in the order they were decoded
	// from a capture.
	Event interface {
		event()
	}

	// Metadata is a free-form key/value pair emitted by the sampler, usually
	// at the start of a capture.
	Metadata struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	// Metrics carries the measured values of a sample. Time is in
	// microseconds. Memory is a signed byte count, positive for allocations
	// and negative for deallocations. A metric the profiling mode does not
	// populate is 0; the wire format does not distinguish absent from zero.
	Metrics struct {
		Time   int64 `json:"time,omitempty"`
		Memory int64 `json:"memory,omitempty"`
	}

	// Sample is one observation of a thread's call stack. Frames are ordered
	// from the outermost to the innermost call. IID is nil for captures in
	// format versions that predate interpreter ids.
	Sample struct {
		PID     int64         `json:"pid"`
		IID     *int64        `json:"iid,omitempty"`
		Thread  string        `json:"thread_id"`
		Metrics Metrics       `json:"metrics"`
		Frames  []frame.Frame `json:"frames,omitempty"`
		GC      bool          `json:"gc,omitempty"`
		Idle    bool          `json:"idle,omitempty"`
	}
)

func (Metadata) event() {}
func (Sample) event()   {}

// Key identifies samples that can be merged: two samples with the same key
// differ at most in their metrics.
func (s Sample) Key() string {
	var b strings.Builder
	iid := int64(-1)
	if s.IID != nil {
		iid = *s.IID
	}
	fmt.Fprintf(&b, "%d|%d|%s|%t|%t", s.PID, iid, s.Thread, s.GC, s.Idle)
	for _, f := range s.Frames {
		b.WriteByte('|')
		b.WriteString(f.String())
	}
	return b.String()
}

// ThreadName returns the thread identity used for aggregation, qualified
// with the interpreter id when one is present.
func (s Sample) ThreadName() string {
	if s.IID != nil {
		return fmt.Sprintf("%d:%s", *s.IID, s.Thread)
	}
	return s.Thread
}
