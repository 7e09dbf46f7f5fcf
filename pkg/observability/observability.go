package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "title_jobs_submitted_total",
		Help: "Submission attempts by outcome (accepted, invalid, error).",
	}, []string{"outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "title_jobs_processed_total",
		Help: "Handled title events by result (completed, failed, skipped, retried).",
	}, []string{"result"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "title_job_duration_seconds",
		Help:    "Duration of title event processing.",
		Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
	}, []string{"result"})

	OutboxRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "title_outbox_relayed_total",
		Help: "Outbox rows re-published by the relay sweep.",
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
