package stats

import (
	"github.com/profiletools/mojo/internal/frame"
	"github.com/profiletools/mojo/internal/sample"
)

// Flatten walks every process and thread tree depth first and produces one
// sample per node with nonzero own value, reconstructing the frame path from
// the thread root down to that node. Updating a fresh aggregate with the
// flattened samples reproduces the original own and total numbers.
//
// Output order is deterministic: processes by pid, threads by label, frames
// by file, function and line.
func (s *Stats) Flatten() []sample.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sample.Sample
	for _, pid := range sortedPIDs(s.Processes) {
		ps := s.Processes[pid]
		for _, label := range sortedThreads(ps.Threads) {
			ts := ps.Threads[label]
			if ts.Own != 0 {
				out = append(out, s.flatSample(pid, label, nil, ts.Own))
			}
			out = s.flattenFrames(out, pid, label, nil, ts.Children)
		}
	}
	return out
}

func (s *Stats) flattenFrames(out []sample.Sample, pid int64, label string, path []frame.Frame, children map[frame.Frame]*FrameStats) []sample.Sample {
	for _, f := range sortedFrames(children) {
		fs := children[f]
		path = append(path, f)
		if fs.Own != 0 {
			frames := make([]frame.Frame, len(path))
			copy(frames, path)
			out = append(out, s.flatSample(pid, label, frames, fs.Own))
		}
		out = s.flattenFrames(out, pid, label, path, fs.Children)
		path = path[:len(path)-1]
	}
	return out
}

func (s *Stats) flatSample(pid int64, label string, frames []frame.Frame, own int64) sample.Sample {
	var metrics sample.Metrics
	switch s.Type {
	case TypeWall, TypeCPU:
		metrics.Time = own
	case TypeMemoryAlloc:
		metrics.Memory = own
	case TypeMemoryDealloc:
		metrics.Memory = -own
	}
	return sample.Sample{
		PID:     pid,
		Thread:  label,
		Metrics: metrics,
		Frames:  frames,
	}
}
