package main

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/profiletools/mojo/internal/capture"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// CaptureStatsKafkaMessage is the message we send to Kafka to notify
	// downstream consumers of a newly ingested capture.
	CaptureStatsKafkaMessage struct {
		CaptureID   string            `json:"capture_id"`
		Metadata    map[string]string `json:"metadata,omitempty"`
		MojoVersion int               `json:"mojo_version"`
		Mode        string            `json:"mode"`
		Received    int64             `json:"received"`
		Samples     int               `json:"samples"`
		Size        int               `json:"size"`
	}
)

func buildCaptureKafkaMessage(c *capture.Capture, size int) CaptureStatsKafkaMessage {
	return CaptureStatsKafkaMessage{
		CaptureID:   c.ID,
		Metadata:    c.Metadata,
		MojoVersion: c.Version,
		Mode:        string(c.Mode()),
		Received:    time.Now().Unix(),
		Samples:     len(c.Samples),
		Size:        size,
	}
}
