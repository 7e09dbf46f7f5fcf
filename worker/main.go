package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"title-pipeline/pkg/bus"
	"title-pipeline/pkg/config"
	"title-pipeline/pkg/job"
	"title-pipeline/pkg/observability"
	"title-pipeline/pkg/process"
	"title-pipeline/pkg/store"
)

var (
	processor *process.Processor
	logger    *slog.Logger
)

func main() {
	logger = observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return
	}

	jobStore, err := store.NewPostgres(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer jobStore.Close()

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

	processor = process.New(jobStore, logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	deliveries, err := eventBus.Consume(job.TopicTitleRequested)
	if err != nil {
		slog.Error("failed to start consuming events", "topic", job.TopicTitleRequested, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						return
					}
					handleDelivery(ctx, msg)
				}
			}
		}()
	}
	slog.Info("worker started, waiting for events", "topic", job.TopicTitleRequested, "concurrency", cfg.Concurrency)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutdown signal received, stopping workers...")
	cancel()
	wg.Wait()
	slog.Info("all workers stopped gracefully")
}

func handleDelivery(ctx context.Context, msg amqp.Delivery) {
	env, err := bus.DecodeEnvelope(msg.Body)
	if err != nil {
		logger.Error("malformed event, dead-lettering", "error", err)
		msg.Nack(false, false) // no requeue: goes to the DLX
		return
	}
	var evt job.TitleRequested
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		logger.Error("malformed payload, dead-lettering", "event_id", env.EventID, "error", err)
		msg.Nack(false, false)
		return
	}

	l := logger.With("job_id", evt.JobID, "event_id", env.EventID)

	timer := time.Now()
	result, err := processor.HandleEvent(ctx, evt)
	if err != nil {
		// Transient store failure: requeue so another delivery retries.
		l.Error("event handling failed", "error", err)
		observability.JobsProcessed.WithLabelValues("retried").Inc()
		msg.Nack(false, true)
		return
	}
	observability.JobsProcessed.WithLabelValues(string(result)).Inc()
	observability.JobDuration.WithLabelValues(string(result)).Observe(time.Since(timer).Seconds())
	l.Info("event handled", "result", result)
	msg.Ack(false)
}
