package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/profiletools/mojo/internal/mojo"
	"github.com/profiletools/mojo/internal/sample"
)

type (
	// Capture is a fully decoded MOJO capture.
	Capture struct {
		ID       string            `json:"capture_id"`
		Version  int               `json:"version"`
		Metadata map[string]string `json:"metadata"`
		Samples  []sample.Sample   `json:"samples"`
	}
)

// FromMOJO decodes a whole capture from r.
func FromMOJO(r io.Reader) (*Capture, error) {
	d := mojo.NewDecoder(r)
	c := Capture{}
	for {
		ev, err := d.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if s, ok := ev.(sample.Sample); ok {
			c.Samples = append(c.Samples, s)
		}
	}
	c.Version = d.Version()
	c.Metadata = d.Metadata()
	return &c, nil
}

// Mode returns the capture's profiling mode, defaulting to wall when the
// metadata does not carry one.
func (c *Capture) Mode() sample.Mode {
	if v, ok := c.Metadata["mode"]; ok {
		if m, err := sample.ParseMode(v); err == nil {
			return m
		}
	}
	return sample.ModeWall
}

// StoragePath returns the object name a capture is stored under.
func StoragePath(captureID string) string {
	return fmt.Sprintf("captures/%s", captureID)
}
