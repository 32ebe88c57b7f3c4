package stats

import (
	"testing"

	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
	"github.com/profiletools/mojo/internal/testutil"
)

func TestFlatten(t *testing.T) {
	s := New(TypeWall)
	s.Update(wallSample(2, "T", 1))
	s.Update(wallSample(1, "MainThread", 5, frameA))
	s.Update(wallSample(1, "MainThread", 3, frameA, frameB))

	got := s.Flatten()
	want := []sample.Sample{
		{
			PID:     1,
			Thread:  "MainThread",
			Metrics: sample.Metrics{Time: 5},
			Frames:  []frame.Frame{frameA},
		},
		{
			PID:     1,
			Thread:  "MainThread",
			Metrics: sample.Metrics{Time: 3},
			Frames:  []frame.Frame{frameA, frameB},
		},
		{
			PID:     2,
			Thread:  "T",
			Metrics: sample.Metrics{Time: 1},
		},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		t       Type
		samples []sample.Sample
	}{
		{
			name: "wall",
			t:    TypeWall,
			samples: []sample.Sample{
				wallSample(1, "A", 10, frameA, frameB),
				wallSample(1, "A", 4, frameA),
				wallSample(1, "B", 6, frameC),
				wallSample(2, "A", 1),
			},
		},
		{
			name: "dealloc",
			t:    TypeMemoryDealloc,
			samples: []sample.Sample{
				{PID: 1, Thread: "T", Metrics: sample.Metrics{Memory: -100}, Frames: []frame.Frame{frameA}},
				{PID: 1, Thread: "T", Metrics: sample.Metrics{Memory: -50}, Frames: []frame.Frame{frameA, frameC}},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			original := New(test.t)
			for _, smp := range test.samples {
				original.Update(smp)
			}

			// Feeding the flattened samples into a fresh aggregate rebuilds
			// the same forest.
			rebuilt := New(test.t)
			for _, smp := range original.Flatten() {
				rebuilt.Update(smp)
			}
			if diff := testutil.Diff(rebuilt.Processes, original.Processes); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}
