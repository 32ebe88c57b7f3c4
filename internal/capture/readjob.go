package capture

import (
	"bytes"
	"context"

	"github.com/profiletools/mojo/internal/mojo"
	"github.com/profiletools/mojo/internal/stats"
	"github.com/profiletools/mojo/internal/storageutil"
)

type (
	// ReadJob fetches a stored capture, decodes it and reports the result
	// over a channel. Jobs are meant to run on a worker pool.
	ReadJob struct {
		Ctx       context.Context
		Storage   storageutil.ObjectHandler
		CaptureID string
		Result    chan<- storageutil.ReadJobResult
	}

	ReadJobResult struct {
		Err       error
		Capture   *Capture
		CaptureID string
	}
)

func (job ReadJob) Read() {
	raw, err := storageutil.CompressedRead(job.Ctx, job.Storage, StoragePath(job.CaptureID))
	if err != nil {
		job.Result <- ReadJobResult{Err: err, CaptureID: job.CaptureID}
		return
	}

	c, err := FromMOJO(bytes.NewReader(raw))
	if err == nil {
		c.ID = job.CaptureID
	}
	job.Result <- ReadJobResult{
		Err:       err,
		Capture:   c,
		CaptureID: job.CaptureID,
	}
}

func (result ReadJobResult) Error() error {
	return result.Err
}

type (
	// StatsReadJob fetches a stored capture and aggregates it into the set
	// of statistics appropriate for its profiling mode.
	StatsReadJob ReadJob

	StatsReadJobResult struct {
		Err       error
		Profiles  map[stats.Type]*stats.Stats
		CaptureID string
	}
)

func (job StatsReadJob) Read() {
	raw, err := storageutil.CompressedRead(job.Ctx, job.Storage, StoragePath(job.CaptureID))
	if err != nil {
		job.Result <- StatsReadJobResult{Err: err, CaptureID: job.CaptureID}
		return
	}

	profiles, err := stats.Load(mojo.NewDecoder(bytes.NewReader(raw)))
	job.Result <- StatsReadJobResult{
		Err:       err,
		Profiles:  profiles,
		CaptureID: job.CaptureID,
	}
}

func (result StatsReadJobResult) Error() error {
	return result.Err
}
