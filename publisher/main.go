package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"title-pipeline/pkg/bus"
	"title-pipeline/pkg/config"
	"title-pipeline/pkg/job"
	"title-pipeline/pkg/observability"
	"title-pipeline/pkg/store"
)

// The relay sweep closes the publish-after-write gap: any outbox row the
// ingress handler could not publish (or clear) is re-published here, so a
// stored job never sits queued without its event. Duplicate deliveries are
// possible and tolerated by the worker.
func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.LoadPublisher()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	jobStore, err := store.NewPostgres(context.Background(), cfg.DatabaseURL, 0)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return
	}
	defer jobStore.Close()

	eventBus, err := bus.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer eventBus.Close()

	// Ensure topology exists; safe if already declared
	if err := eventBus.SetupTopology(job.TopicTitleRequested); err != nil {
		logger.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	logger.Info("outbox relay starting", "interval", cfg.SweepInterval, "min_age", cfg.SweepMinAge)
	ctx := context.Background()
	ticker := time.NewTicker(cfg.SweepInterval)
	for range ticker.C {
		sweepOutbox(ctx, cfg, jobStore, eventBus, logger)
	}
}

func sweepOutbox(ctx context.Context, cfg config.Publisher, jobStore *store.Postgres, eventBus *bus.AMQP, logger *slog.Logger) {
	messages, err := jobStore.FetchOutbox(ctx, cfg.SweepMinAge, cfg.SweepBatch)
	if err != nil {
		logger.Error("failed to fetch outbox rows", "error", err)
		return
	}
	for _, m := range messages {
		if err := eventBus.Publish(ctx, m.Topic, json.RawMessage(m.Payload)); err != nil {
			logger.Error("failed to publish outbox row", "error", err, "job_id", m.JobID)
			continue
		}
		if err := jobStore.DeleteOutbox(ctx, m.ID); err != nil {
			logger.Error("failed to delete outbox row after publish", "error", err, "outbox_id", m.ID)
			continue
		}
		observability.OutboxRelayed.Inc()
		logger.Info("relayed event from outbox", "job_id", m.JobID, "topic", m.Topic)
	}
}
