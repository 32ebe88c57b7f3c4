package stats

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrThreadNotFound  = errors.New("thread not found")
)

// Type selects which metric of incoming samples an aggregate accumulates.
type Type string

const (
	TypeWall          Type = "wall"
	TypeCPU           Type = "cpu"
	TypeMemoryAlloc   Type = "memory_alloc"
	TypeMemoryDealloc Type = "memory_dealloc"
)

// Mode returns the profiling mode this type reads its metric from.
func (t Type) Mode() string {
	mode, _, _ := strings.Cut(string(t), "_")
	return mode
}

type (
	// FrameStats is one call-tree node. Total is always Own plus the sum of
	// the children's totals.
	FrameStats struct {
		Frame    frame.Frame
		Height   int
		Own      int64
		Total    int64
		Children map[frame.Frame]*FrameStats
	}

	// ThreadStats is the root of a thread's call tree. The label is the
	// interpreter-qualified thread name.
	ThreadStats struct {
		Label    string
		Own      int64
		Total    int64
		Children map[frame.Frame]*FrameStats
	}

	// ProcessStats holds the per-thread trees of one process.
	ProcessStats struct {
		PID     int64
		Threads map[string]*ThreadStats
	}

	// Stats folds decoded samples into a forest of process, thread and frame
	// nodes. Update may be called concurrently from multiple producers; the
	// process map is guarded by a single coarse lock.
	Stats struct {
		Type      Type
		Processes map[int64]*ProcessStats

		mu sync.Mutex
	}
)

func New(t Type) *Stats {
	return &Stats{
		Type:      t,
		Processes: make(map[int64]*ProcessStats),
	}
}

// Merge folds other into fs and returns fs. Nodes representing different
// frames cannot be merged: in that case Merge returns fs unchanged. That
// leniency is deliberate, if debatable; callers that want strictness must
// compare labels first.
func (fs *FrameStats) Merge(other *FrameStats) *FrameStats {
	if fs.Frame != other.Frame {
		return fs
	}
	fs.Own += other.Own
	fs.Total += other.Total
	for f, child := range other.Children {
		if existing, ok := fs.Children[f]; ok {
			existing.Merge(child)
		} else {
			if fs.Children == nil {
				fs.Children = make(map[frame.Frame]*FrameStats)
			}
			fs.Children[f] = child
		}
	}
	return fs
}

// Merge folds other into ts and returns ts, with the same label-mismatch
// leniency as FrameStats.Merge.
func (ts *ThreadStats) Merge(other *ThreadStats) *ThreadStats {
	if ts.Label != other.Label {
		return ts
	}
	ts.Own += other.Own
	ts.Total += other.Total
	for f, child := range other.Children {
		if existing, ok := ts.Children[f]; ok {
			existing.Merge(child)
		} else {
			if ts.Children == nil {
				ts.Children = make(map[frame.Frame]*FrameStats)
			}
			ts.Children[f] = child
		}
	}
	return ts
}

func (ps *ProcessStats) GetThread(label string) (*ThreadStats, error) {
	ts, ok := ps.Threads[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q in process %d", ErrThreadNotFound, label, ps.PID)
	}
	return ts, nil
}

func (s *Stats) GetProcess(pid int64) (*ProcessStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.Processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	return ps, nil
}

// metricValue extracts the scalar this aggregate accumulates from a sample.
// A zero value, or a memory delta of the wrong polarity, contributes
// nothing.
func (s *Stats) metricValue(smp sample.Sample) int64 {
	switch s.Type {
	case TypeWall, TypeCPU:
		return smp.Metrics.Time
	case TypeMemoryAlloc:
		if smp.Metrics.Memory > 0 {
			return smp.Metrics.Memory
		}
	case TypeMemoryDealloc:
		if smp.Metrics.Memory < 0 {
			return -smp.Metrics.Memory
		}
	}
	return 0
}

// Update folds one sample into the aggregate.
func (s *Stats) Update(smp sample.Sample) {
	metric := s.metricValue(smp)
	if metric == 0 {
		return
	}

	// Build the single-path tree for this sample: own is zero everywhere
	// but the leaf, total carries the full value at every level.
	ts := &ThreadStats{
		Label:    smp.ThreadName(),
		Total:    metric,
		Children: make(map[frame.Frame]*FrameStats),
	}
	container := ts.Children
	var leaf *FrameStats
	for height, f := range smp.Frames {
		fs := &FrameStats{
			Frame:    f,
			Height:   height,
			Total:    metric,
			Children: make(map[frame.Frame]*FrameStats),
		}
		container[f] = fs
		container = fs.Children
		leaf = fs
	}
	if leaf != nil {
		leaf.Own = leaf.Total
	} else {
		ts.Own = ts.Total
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	process, ok := s.Processes[smp.PID]
	if !ok {
		s.Processes[smp.PID] = &ProcessStats{
			PID:     smp.PID,
			Threads: map[string]*ThreadStats{ts.Label: ts},
		}
		return
	}
	if existing, ok := process.Threads[ts.Label]; ok {
		existing.Merge(ts)
	} else {
		process.Threads[ts.Label] = ts
	}
}

// Snapshot returns a deep copy of the aggregate, sharing nothing with the
// original. Reporting against a snapshot does not hold the update lock.
func (s *Stats) Snapshot() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := New(s.Type)
	for pid, ps := range s.Processes {
		threads := make(map[string]*ThreadStats, len(ps.Threads))
		for label, ts := range ps.Threads {
			threads[label] = &ThreadStats{
				Label:    ts.Label,
				Own:      ts.Own,
				Total:    ts.Total,
				Children: copyFrameStats(ts.Children),
			}
		}
		copied.Processes[pid] = &ProcessStats{PID: pid, Threads: threads}
	}
	return copied
}

func copyFrameStats(children map[frame.Frame]*FrameStats) map[frame.Frame]*FrameStats {
	if children == nil {
		return nil
	}
	copied := make(map[frame.Frame]*FrameStats, len(children))
	for f, fs := range children {
		copied[f] = &FrameStats{
			Frame:    fs.Frame,
			Height:   fs.Height,
			Own:      fs.Own,
			Total:    fs.Total,
			Children: copyFrameStats(fs.Children),
		}
	}
	return copied
}

// Dump writes the aggregate in the collapsed stack text form, one line per
// node with own time, prefixed by process and thread.
func (s *Stats) Dump(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(w, "# mode: %s\n\n", s.Type.Mode()); err != nil {
		return err
	}
	for _, pid := range sortedPIDs(s.Processes) {
		ps := s.Processes[pid]
		for _, label := range sortedThreads(ps.Threads) {
			ts := ps.Threads[label]
			prefix := fmt.Sprintf("P%d;T%s", pid, label)
			if ts.Own != 0 || len(ts.Children) == 0 {
				if _, err := fmt.Fprintf(w, "%s %d\n", prefix, ts.Own); err != nil {
					return err
				}
			}
			if err := dumpFrames(w, prefix, ts.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpFrames(w io.Writer, prefix string, children map[frame.Frame]*FrameStats) error {
	for _, f := range sortedFrames(children) {
		fs := children[f]
		line := fmt.Sprintf("%s;%s", prefix, f)
		if fs.Own != 0 || len(fs.Children) == 0 {
			if _, err := fmt.Fprintf(w, "%s %d\n", line, fs.Own); err != nil {
				return err
			}
		}
		if err := dumpFrames(w, line, fs.Children); err != nil {
			return err
		}
	}
	return nil
}

func sortedPIDs(processes map[int64]*ProcessStats) []int64 {
	pids := make([]int64, 0, len(processes))
	for pid := range processes {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

func sortedThreads(threads map[string]*ThreadStats) []string {
	labels := make([]string, 0, len(threads))
	for label := range threads {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func sortedFrames(children map[frame.Frame]*FrameStats) []frame.Frame {
	frames := make([]frame.Frame, 0, len(children))
	for f := range children {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool {
		a, b := frames[i], frames[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		return a.Line < b.Line
	})
	return frames
}
