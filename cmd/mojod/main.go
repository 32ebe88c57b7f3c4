package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/CAFxX/httpcompression"
	"github.com/dgraph-io/badger/v4"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/profiletools/mojo/internal/httputil"
	"github.com/profiletools/mojo/internal/logutil"
	"github.com/profiletools/mojo/internal/storageprovider"
	"github.com/profiletools/mojo/internal/storageutil"
)

type environment struct {
	config ServiceConfig

	captures storageutil.ObjectHandler

	statsWriter *kafka.Writer

	storage *storage.Client
	db      *badger.DB
}

var release string

func newEnvironment() (*environment, error) {
	var e environment
	var err error
	e.config, err = loadServiceConfig()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	switch e.config.CapturesProvider {
	case "gcs":
		e.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		e.captures = &storageprovider.Gcs{
			BucketHandle: e.storage.Bucket(e.config.CapturesBucket),
		}
	case "badger":
		e.db, err = badger.Open(badger.DefaultOptions(e.config.BadgerPath).WithLogger(nil))
		if err != nil {
			return nil, err
		}
		e.captures = &storageprovider.Badger{DB: e.db}
	default:
		return nil, fmt.Errorf("unknown captures provider: %v", e.config.CapturesProvider)
	}

	e.statsWriter = &kafka.Writer{
		Addr:         kafka.TCP(e.config.StatsKafkaBrokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    100,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		Topic:        e.config.StatsKafkaTopic,
		WriteTimeout: 3 * time.Second,
	}
	return &e, nil
}

func (e *environment) shutdown() {
	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			sentry.CaptureException(err)
		}
	}
	if err := e.statsWriter.Close(); err != nil {
		sentry.CaptureException(err)
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", e.getHealth},
		{http.MethodPost, "/capture", e.postCapture},
		{http.MethodGet, "/captures/:capture_id", e.getCapture},
		{http.MethodGet, "/captures/:capture_id/stats", e.getCaptureStats},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func main() {
	logutil.ConfigureLogger()

	env, err := newEnvironment()
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:                   env.config.SentryDSN,
		EnableTracing:         true,
		Environment:           env.config.Environment,
		Release:               release,
		TracesSampleRate:      1.0,
		BeforeSendTransaction: httputil.SetHTTPStatusCodeTag,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + strconv.Itoa(env.config.Port),
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	waitForShutdown := make(chan os.Signal)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
