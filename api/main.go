package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"title-pipeline/pkg/bus"
	"title-pipeline/pkg/config"
	"title-pipeline/pkg/ingress"
	"title-pipeline/pkg/job"
	"title-pipeline/pkg/observability"
	"title-pipeline/pkg/store"
	"title-pipeline/pkg/validate"
)

var (
	jobStore *store.Postgres
	handler  *ingress.Handler
	logger   *slog.Logger
)

func main() {
	logger = observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return
	}

	jobStore, err = store.NewPostgres(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer jobStore.Close()

	// In a real app, you might use a migration tool. For this demo, we ensure the schema exists.
	if err := jobStore.InitSchema(context.Background()); err != nil {
		slog.Error("failed to initialize schema", "error", err)
	}

	eventBus, err := bus.Dial(cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer eventBus.Close()

	if err := eventBus.SetupTopology(job.TopicTitleRequested); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	handler = ingress.New(jobStore, eventBus, logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	http.HandleFunc("/titles", handleSubmitTitle)
	http.HandleFunc("/titles/", handleTitleStatus)
	http.HandleFunc("/health", handleHealth)
	slog.Info("API server starting", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, nil); err != nil {
		slog.Error("api server failed", "error", err)
	}
}

func handleSubmitTitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		observability.JobsSubmitted.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request: body must be a JSON object"})
		return
	}

	receipt, err := handler.Submit(r.Context(), raw)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			observability.JobsSubmitted.WithLabelValues("invalid").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request: " + strings.Join(verr.Violations, "; ")})
			return
		}
		// Infrastructure detail stays in the logs, never in the response.
		observability.JobsSubmitted.WithLabelValues("error").Inc()
		slog.Error("failed to submit job", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	observability.JobsSubmitted.WithLabelValues("accepted").Inc()
	slog.Info("job submitted successfully", "job_id", receipt.JobID)
	writeJSON(w, http.StatusCreated, receipt)
}

func handleTitleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/titles/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	rec, err := jobStore.Get(r.Context(), job.Namespace, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		slog.Error("failed to fetch job", "job_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
