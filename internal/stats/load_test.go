package stats

import (
	"errors"
	"io"
	"testing"

	"github.com/profiletools/mojo/internal/sample"
)

type sliceSource struct {
	events []sample.Event
}

func (s *sliceSource) Next() (sample.Event, error) {
	if len(s.events) == 0 {
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		mode  string
		types []Type
	}{
		{"cpu", "cpu", []Type{TypeCPU}},
		{"wall", "wall", []Type{TypeWall}},
		{"memory", "memory", []Type{TypeMemoryAlloc, TypeMemoryDealloc}},
		{"full", "full", []Type{TypeCPU, TypeWall, TypeMemoryAlloc, TypeMemoryDealloc}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src := &sliceSource{events: []sample.Event{
				sample.Metadata{Name: "duration", Value: "3600"},
				sample.Metadata{Name: "mode", Value: test.mode},
				sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Time: 10, Memory: 100}},
				sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Time: 5, Memory: -50}},
			}}

			profiles, err := Load(src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(profiles) != len(test.types) {
				t.Fatalf("got %d aggregates, want %d", len(profiles), len(test.types))
			}
			for _, typ := range test.types {
				if _, ok := profiles[typ]; !ok {
					t.Fatalf("missing aggregate for %q", typ)
				}
			}
		})
	}
}

func TestLoadAccumulates(t *testing.T) {
	src := &sliceSource{events: []sample.Event{
		sample.Metadata{Name: "mode", Value: "full"},
		sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Time: 10, Memory: 100}},
		sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Time: 5, Memory: -50}},
	}}

	profiles, err := Load(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	totals := map[Type]int64{
		TypeCPU:           15,
		TypeWall:          15,
		TypeMemoryAlloc:   100,
		TypeMemoryDealloc: 50,
	}
	for typ, want := range totals {
		ps, err := profiles[typ].GetProcess(1)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		ts, err := ps.GetThread("T")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if ts.Total != want {
			t.Fatalf("%s: total = %d, want %d", typ, ts.Total, want)
		}
	}
}

func TestLoadBuffersSamplesBeforeMode(t *testing.T) {
	// Samples ahead of the mode entry are unusual but must not be lost.
	src := &sliceSource{events: []sample.Event{
		sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Time: 7}},
		sample.Metadata{Name: "mode", Value: "wall"},
	}}

	profiles, err := Load(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps, err := profiles[TypeWall].GetProcess(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts, err := ps.GetThread("T")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Total != 7 {
		t.Fatalf("thread total = %d, want 7", ts.Total)
	}
}

func TestLoadNoMode(t *testing.T) {
	src := &sliceSource{events: []sample.Event{
		sample.Metadata{Name: "duration", Value: "3600"},
	}}
	if _, err := Load(src); !errors.Is(err, ErrNoMode) {
		t.Fatalf("got %v, want ErrNoMode", err)
	}
}

func TestLoadBadMode(t *testing.T) {
	src := &sliceSource{events: []sample.Event{
		sample.Metadata{Name: "mode", Value: "turbo"},
	}}
	if _, err := Load(src); err == nil {
		t.Fatal("unknown modes should be rejected")
	}
}
