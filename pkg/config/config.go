// Package config loads per-binary settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type API struct {
	Addr        string `envconfig:"API_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"API_METRICS_ADDR" default:":8081"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"0"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL" required:"true"`
}

type Worker struct {
	MetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"0"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL" required:"true"`
	Concurrency int    `envconfig:"WORKER_CONCURRENCY" default:"10"`
}

type Publisher struct {
	DatabaseURL   string        `envconfig:"DATABASE_URL" required:"true"`
	RabbitMQURL   string        `envconfig:"RABBITMQ_URL" required:"true"`
	SweepInterval time.Duration `envconfig:"OUTBOX_SWEEP_INTERVAL" default:"1s"`
	SweepMinAge   time.Duration `envconfig:"OUTBOX_SWEEP_MIN_AGE" default:"5s"`
	SweepBatch    int           `envconfig:"OUTBOX_SWEEP_BATCH" default:"100"`
}

func LoadAPI() (API, error) {
	var c API
	return c, load(&c)
}

func LoadWorker() (Worker, error) {
	var c Worker
	return c, load(&c)
}

func LoadPublisher() (Publisher, error) {
	var c Publisher
	return c, load(&c)
}

func load(c any) error {
	_ = godotenv.Load()
	return envconfig.Process("", c)
}
