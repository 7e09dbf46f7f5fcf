// Package process consumes title events and performs the unit of work. It
// receives only the event payload, never a live record: current state is
// re-fetched from the store by job id.
package process

import (
	"context"
	"fmt"
	"log/slog"

	"title-pipeline/pkg/job"
)

// Result classifies one handled event.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
	// ResultSkipped means the record was missing or already terminal;
	// redelivered events for finished jobs land here.
	ResultSkipped Result = "skipped"
)

// Store is the slice of the job store the processor needs.
type Store interface {
	Claim(ctx context.Context, ns, id string) (*job.Record, error)
	MarkCompleted(ctx context.Context, ns, id, title string) error
	MarkFailed(ctx context.Context, ns, id, reason string) error
}

// Generator produces the title for a claimed job.
type Generator func(ctx context.Context, email, channel string) (string, error)

// PlaceholderGenerator stands in for the real model call: it logs nothing,
// fails never, and returns a deterministic draft title.
func PlaceholderGenerator(ctx context.Context, email, channel string) (string, error) {
	return fmt.Sprintf("Working title for %s", channel), nil
}

type Processor struct {
	store    Store
	logger   *slog.Logger
	generate Generator
}

func New(st Store, logger *slog.Logger) *Processor {
	return &Processor{store: st, logger: logger, generate: PlaceholderGenerator}
}

// WithGenerator swaps the unit of work; used by tests and future real models.
func (p *Processor) WithGenerator(g Generator) *Processor {
	p.generate = g
	return p
}

// HandleEvent claims the referenced job, runs the generator, and records the
// outcome on the record. A non-nil error is transient (store unreachable) and
// the event should be redelivered; generator failures are terminal for the
// job, recorded as failed, and not an error here — the original caller has
// long since disconnected.
func (p *Processor) HandleEvent(ctx context.Context, evt job.TitleRequested) (Result, error) {
	l := p.logger.With("job_id", evt.JobID)

	// Claim also re-takes a record left in processing, so a redelivery can
	// finish a job whose outcome write failed the first time.
	rec, err := p.store.Claim(ctx, job.Namespace, evt.JobID)
	if err != nil {
		return ResultSkipped, fmt.Errorf("claim job: %w", err)
	}
	if rec == nil {
		l.Info("job missing or already finished, skipping")
		return ResultSkipped, nil
	}
	l.Info("processing title generation", "email", evt.Email, "channel", evt.Channel)

	title, genErr := p.generate(ctx, evt.Email, evt.Channel)
	if genErr != nil {
		l.Error("title generation failed", "error", genErr)
		if err := p.store.MarkFailed(ctx, job.Namespace, evt.JobID, genErr.Error()); err != nil {
			return ResultFailed, fmt.Errorf("record failure: %w", err)
		}
		return ResultFailed, nil
	}

	if err := p.store.MarkCompleted(ctx, job.Namespace, evt.JobID, title); err != nil {
		return ResultCompleted, fmt.Errorf("record completion: %w", err)
	}
	l.Info("title generation completed", "title", title)
	return ResultCompleted, nil
}
