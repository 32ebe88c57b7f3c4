package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/gcerrors"

	"github.com/profiletools/mojo/internal/capture"
	"github.com/profiletools/mojo/internal/sample"
	"github.com/profiletools/mojo/internal/stats"
	"github.com/profiletools/mojo/internal/storageutil"
)

type PostCaptureResponse struct {
	CaptureID string `json:"capture_id"`
}

func (env *environment) postCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	s = sentry.StartSpan(ctx, "mojo.decode")
	s.Description = "Decode capture"
	c, err := capture.FromMOJO(bytes.NewReader(body))
	s.Finish()
	if err != nil {
		log.Err(err).Msg("capture can't be decoded")
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.ID = uuid.New().String()

	hub.Scope().SetContext("Capture metadata", map[string]interface{}{
		"capture_id":   c.ID,
		"mode":         string(c.Mode()),
		"mojo_version": c.Version,
		"samples":      len(c.Samples),
		"size":         len(body),
	})

	s = sentry.StartSpan(ctx, "storage.write")
	s.Description = "Write capture to storage"
	err = storageutil.CompressedWrite(ctx, env.captures, capture.StoragePath(c.ID), body)
	s.Finish()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// This is a transient error, we'll retry
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			// These errors won't be retried
			hub.CaptureException(err)
			if code := gcerrors.Code(err); code == gcerrors.FailedPrecondition {
				w.WriteHeader(http.StatusPreconditionFailed)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
		return
	}

	s = sentry.StartSpan(ctx, "json.marshal")
	s.Description = "Marshal capture Kafka message"
	b, err := jsonit.Marshal(buildCaptureKafkaMessage(c, len(body)))
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Send capture to Kafka"
	err = env.statsWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.ID),
		Value: b,
	})
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s = sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()

	b, err = json.Marshal(PostCaptureResponse{CaptureID: c.ID})
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (env *environment) getCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)
	rawCaptureID := ps.ByName("capture_id")
	captureID, err := uuid.Parse(rawCaptureID)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("capture_id", rawCaptureID)

	s := sentry.StartSpan(ctx, "storage.read")
	s.Description = "Read capture from storage"
	results := make(chan storageutil.ReadJobResult, 1)
	capture.ReadJob{
		Ctx:       ctx,
		Storage:   env.captures,
		CaptureID: captureID.String(),
		Result:    results,
	}.Read()
	result := (<-results).(capture.ReadJobResult)
	s.Finish()
	if result.Err != nil {
		if errors.Is(result.Err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hub.CaptureException(result.Err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	s = sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()

	b, err := json.Marshal(result.Capture)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

type CaptureStatsResponse struct {
	CaptureID string                         `json:"capture_id"`
	Profiles  map[stats.Type][]sample.Sample `json:"profiles"`
}

func (env *environment) getCaptureStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)
	rawCaptureID := ps.ByName("capture_id")
	captureID, err := uuid.Parse(rawCaptureID)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("capture_id", rawCaptureID)

	s := sentry.StartSpan(ctx, "aggregate")
	s.Description = "Aggregate capture statistics"
	results := make(chan storageutil.ReadJobResult, 1)
	capture.StatsReadJob{
		Ctx:       ctx,
		Storage:   env.captures,
		CaptureID: captureID.String(),
		Result:    results,
	}.Read()
	result := (<-results).(capture.StatsReadJobResult)
	s.Finish()
	if result.Err != nil {
		if errors.Is(result.Err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hub.CaptureException(result.Err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	response := CaptureStatsResponse{
		CaptureID: captureID.String(),
		Profiles:  make(map[stats.Type][]sample.Sample, len(result.Profiles)),
	}
	for t, st := range result.Profiles {
		response.Profiles[t] = st.Flatten()
	}

	s = sentry.StartSpan(ctx, "json.marshal")
	defer s.Finish()

	b, err := json.Marshal(response)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
