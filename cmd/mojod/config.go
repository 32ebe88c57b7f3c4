package main

import (
	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `env:"MOJO_ENVIRONMENT" env-default:"development"`
		Port        int    `env:"PORT" env-default:"8080"`

		SentryDSN string `env:"SENTRY_DSN"`

		// CapturesProvider selects where raw captures are stored,
		// either "gcs" or "badger".
		CapturesProvider string `env:"MOJO_CAPTURES_PROVIDER" env-default:"badger"`
		CapturesBucket   string `env:"MOJO_CAPTURES_BUCKET" env-default:"mojo-captures"`
		BadgerPath       string `env:"MOJO_BADGER_PATH" env-default:"/var/lib/mojod/captures"`

		StatsKafkaBrokers []string `env:"MOJO_STATS_KAFKA_BROKERS" env-default:"localhost:9092"`
		StatsKafkaTopic   string   `env:"MOJO_STATS_KAFKA_TOPIC" env-default:"capture-stats"`
	}
)

func loadServiceConfig() (ServiceConfig, error) {
	var config ServiceConfig
	err := cleanenv.ReadEnv(&config)
	return config, err
}
