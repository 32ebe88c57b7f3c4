package stats

import (
	"bytes"
	"errors"
	"testing"

	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
	"github.com/profiletools/mojo/internal/testutil"
)

var (
	frameA = frame.Frame{File: "app.py", Function: "main", Line: 3}
	frameB = frame.Frame{File: "app.py", Function: "work", Line: 17}
	frameC = frame.Frame{File: "util.py", Function: "log", Line: 5}
)

func wallSample(pid int64, thread string, time int64, frames ...frame.Frame) sample.Sample {
	return sample.Sample{
		PID:     pid,
		Thread:  thread,
		Metrics: sample.Metrics{Time: time},
		Frames:  frames,
	}
}

func TestTypeMode(t *testing.T) {
	tests := []struct {
		t    Type
		mode string
	}{
		{TypeWall, "wall"},
		{TypeCPU, "cpu"},
		{TypeMemoryAlloc, "memory"},
		{TypeMemoryDealloc, "memory"},
	}
	for _, test := range tests {
		if got := test.t.Mode(); got != test.mode {
			t.Fatalf("%s.Mode() = %q, want %q", test.t, got, test.mode)
		}
	}
}

func TestUpdate(t *testing.T) {
	s := New(TypeWall)
	s.Update(wallSample(42, "MainThread", 10, frameA, frameB))
	s.Update(wallSample(42, "MainThread", 5, frameA, frameB))
	s.Update(wallSample(42, "MainThread", 3, frameA))
	s.Update(wallSample(42, "MainThread", 2, frameA, frameC))

	want := map[int64]*ProcessStats{
		42: {
			PID: 42,
			Threads: map[string]*ThreadStats{
				"MainThread": {
					Label: "MainThread",
					Total: 20,
					Children: map[frame.Frame]*FrameStats{
						frameA: {
							Frame: frameA,
							Own:   3,
							Total: 20,
							Children: map[frame.Frame]*FrameStats{
								frameB: {
									Frame:    frameB,
									Height:   1,
									Own:      15,
									Total:    15,
									Children: map[frame.Frame]*FrameStats{},
								},
								frameC: {
									Frame:    frameC,
									Height:   1,
									Own:      2,
									Total:    2,
									Children: map[frame.Frame]*FrameStats{},
								},
							},
						},
					},
				},
			},
		},
	}
	if diff := testutil.Diff(s.Processes, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestUpdateFramelessSample(t *testing.T) {
	s := New(TypeWall)
	s.Update(wallSample(1, "T", 7))

	ps, err := s.GetProcess(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts, err := ps.GetThread("T")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Own != 7 || ts.Total != 7 {
		t.Fatalf("thread own/total = %d/%d, want 7/7", ts.Own, ts.Total)
	}
}

func TestUpdateInterpreterQualifiedThreads(t *testing.T) {
	s := New(TypeWall)
	one := int64(1)
	smp := wallSample(1, "T", 5, frameA)
	smp.IID = &one
	s.Update(smp)

	ps, err := s.GetProcess(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ps.GetThread("1:T"); err != nil {
		t.Fatalf("expected thread label to carry the interpreter id: %v", err)
	}
}

// checkInvariant asserts total == own + sum of children totals on every node.
func checkInvariant(t *testing.T, s *Stats) {
	t.Helper()
	var walk func(own, total int64, children map[frame.Frame]*FrameStats)
	walk = func(own, total int64, children map[frame.Frame]*FrameStats) {
		sum := own
		for _, child := range children {
			sum += child.Total
			walk(child.Own, child.Total, child.Children)
		}
		if sum != total {
			t.Fatalf("total %d != own %d + children totals %d", total, own, sum-own)
		}
	}
	for _, ps := range s.Processes {
		for _, ts := range ps.Threads {
			walk(ts.Own, ts.Total, ts.Children)
		}
	}
}

func TestUpdateInvariant(t *testing.T) {
	s := New(TypeWall)
	samples := []sample.Sample{
		wallSample(1, "A", 10, frameA, frameB),
		wallSample(1, "A", 4, frameA),
		wallSample(1, "B", 6, frameC),
		wallSample(2, "A", 1),
		wallSample(1, "A", 9, frameA, frameB, frameC),
	}
	for _, smp := range samples {
		s.Update(smp)
	}
	checkInvariant(t, s)
}

func TestUpdateDuplicateLeaves(t *testing.T) {
	const k, value = 5, int64(3)
	s := New(TypeWall)
	for i := 0; i < k; i++ {
		s.Update(wallSample(1, "T", value, frameA, frameB))
	}

	ps, _ := s.GetProcess(1)
	ts, _ := ps.GetThread("T")
	leaf := ts.Children[frameA].Children[frameB]
	if leaf.Own != k*value || leaf.Total != k*value {
		t.Fatalf("leaf own/total = %d/%d, want %d", leaf.Own, leaf.Total, k*value)
	}
	checkInvariant(t, s)
}

func TestMetricPolarity(t *testing.T) {
	alloc := sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Memory: 100}, Frames: []frame.Frame{frameA}}
	dealloc := sample.Sample{PID: 1, Thread: "T", Metrics: sample.Metrics{Memory: -40}, Frames: []frame.Frame{frameA}}

	tests := []struct {
		name string
		t    Type
		want int64
	}{
		{"alloc keeps positive deltas", TypeMemoryAlloc, 100},
		{"dealloc negates negative deltas", TypeMemoryDealloc, 40},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := New(test.t)
			s.Update(alloc)
			s.Update(dealloc)

			ps, err := s.GetProcess(1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ts, err := ps.GetThread("T")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.Total != test.want {
				t.Fatalf("thread total = %d, want %d", ts.Total, test.want)
			}
		})
	}

	// A wall aggregate ignores samples with no time at all.
	s := New(TypeWall)
	s.Update(alloc)
	if len(s.Processes) != 0 {
		t.Fatal("a zero valued metric should not create nodes")
	}
}

func TestMergeLabelMismatch(t *testing.T) {
	// Merging nodes with different identities is a deliberate no-op; the
	// receiver is returned unchanged.
	ts := &ThreadStats{Label: "A", Own: 1, Total: 1}
	other := &ThreadStats{Label: "B", Own: 9, Total: 9}
	if got := ts.Merge(other); got.Own != 1 || got.Total != 1 {
		t.Fatalf("mismatched thread merge changed the receiver: %+v", got)
	}

	fs := &FrameStats{Frame: frameA, Own: 1, Total: 1}
	if got := fs.Merge(&FrameStats{Frame: frameB, Own: 9, Total: 9}); got.Own != 1 || got.Total != 1 {
		t.Fatalf("mismatched frame merge changed the receiver: %+v", got)
	}
}

func TestMergeMatchingLabels(t *testing.T) {
	build := func(time int64) *ThreadStats {
		s := New(TypeWall)
		s.Update(wallSample(1, "T", time, frameA, frameB))
		return s.Processes[1].Threads["T"]
	}

	merged := build(10).Merge(build(5))
	if merged.Total != 15 {
		t.Fatalf("merged total = %d, want 15", merged.Total)
	}
	leaf := merged.Children[frameA].Children[frameB]
	if leaf.Own != 15 {
		t.Fatalf("merged leaf own = %d, want 15", leaf.Own)
	}
}

func TestGetProcessAndThreadErrors(t *testing.T) {
	s := New(TypeWall)
	if _, err := s.GetProcess(1); !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("got %v, want ErrProcessNotFound", err)
	}

	s.Update(wallSample(1, "T", 1))
	ps, err := s.GetProcess(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ps.GetThread("other"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("got %v, want ErrThreadNotFound", err)
	}
}

func TestSnapshot(t *testing.T) {
	s := New(TypeWall)
	s.Update(wallSample(1, "T", 10, frameA, frameB))

	snapshot := s.Snapshot()
	s.Update(wallSample(1, "T", 5, frameA, frameB))

	if diff := testutil.Diff(snapshot.Processes, s.Processes); diff == "" {
		t.Fatal("snapshot should not observe later updates")
	}
	leaf := snapshot.Processes[1].Threads["T"].Children[frameA].Children[frameB]
	if leaf.Own != 10 {
		t.Fatalf("snapshot leaf own = %d, want 10", leaf.Own)
	}
}

func TestDump(t *testing.T) {
	s := New(TypeWall)
	s.Update(wallSample(1, "MainThread", 2))
	s.Update(wallSample(1, "MainThread", 5, frameA))
	s.Update(wallSample(1, "MainThread", 3, frameA, frameB))

	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "# mode: wall\n" +
		"\n" +
		"P1;TMainThread 2\n" +
		"P1;TMainThread;app.py:main:3 5\n" +
		"P1;TMainThread;app.py:main:3;app.py:work:17 3\n"
	if buf.String() != want {
		t.Fatalf("Result mismatch: got - want +\n%s", testutil.Diff(buf.String(), want))
	}
}
