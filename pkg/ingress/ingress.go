// Package ingress accepts title-generation requests: it validates the raw
// payload, records the job as queued, and publishes the event the workers
// consume. The caller's acknowledgment means "accepted for processing", not
// "processing complete".
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"title-pipeline/pkg/bus"
	"title-pipeline/pkg/job"
	"title-pipeline/pkg/store"
	"title-pipeline/pkg/validate"
)

// idAttempts bounds regeneration when a generated id already exists.
const idAttempts = 3

// Store is the slice of the job store the ingress handler needs.
type Store interface {
	CreateWithOutbox(ctx context.Context, ns string, rec *job.Record, topic string, payload []byte) (string, error)
	DeleteOutbox(ctx context.Context, id string) error
}

var submitSchema = validate.Schema{
	"email":   {Required: true, Format: validate.FormatEmail},
	"channel": {Required: true, MinLength: 1},
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type Handler struct {
	store  Store
	bus    bus.Publisher
	logger *slog.Logger

	now   func() time.Time
	newID func(time.Time) string
}

func New(st Store, pub bus.Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:  st,
		bus:    pub,
		logger: logger,
		now:    time.Now,
		newID:  job.NewID,
	}
}

// Submit validates the raw request, durably records a queued job, and
// publishes the title event. On validation failure it returns
// *validate.Error with no state mutated and nothing published. The record is
// always visible in the store before the event can reach any subscriber.
func (h *Handler) Submit(ctx context.Context, raw map[string]any) (*Receipt, error) {
	fields, verr := submitSchema.Apply(raw)
	if verr != nil {
		h.logger.Warn("rejected submission", "error", verr.Error())
		return nil, verr
	}
	email, channel := fields["email"], fields["channel"]

	rec := &job.Record{
		Status:    job.StatusQueued,
		Email:     email,
		Channel:   channel,
		CreatedAt: h.now().UTC(),
	}
	evt := job.TitleRequested{Email: email, Channel: channel}

	// The id suffix is random, so a collision means regenerate, never
	// overwrite. Exhausting the attempts is an internal error.
	var outboxID string
	for attempt := 0; ; attempt++ {
		rec.ID = h.newID(h.now())
		evt.JobID = rec.ID
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("encode event payload: %w", err)
		}
		outboxID, err = h.store.CreateWithOutbox(ctx, job.Namespace, rec, job.TopicTitleRequested, payload)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrDuplicateID) && attempt < idAttempts-1 {
			h.logger.Warn("job id collision, regenerating", "job_id", rec.ID)
			continue
		}
		return nil, fmt.Errorf("persist job: %w", err)
	}

	l := h.logger.With("job_id", rec.ID)
	l.Info("job queued", "channel", channel)

	// Publish failure is not a submission failure: the job row and its
	// outbox row are already durable, and the relay sweep re-publishes
	// anything left behind. At-least-once, never silent.
	if err := h.bus.Publish(ctx, job.TopicTitleRequested, evt); err != nil {
		l.Warn("publish failed, leaving outbox row for the relay", "error", err)
	} else if err := h.store.DeleteOutbox(ctx, outboxID); err != nil {
		// The relay will publish a duplicate; subscribers tolerate that.
		l.Warn("failed to clear outbox row after publish", "error", err)
	}

	return &Receipt{JobID: rec.ID, Message: "Job queued successfully"}, nil
}
