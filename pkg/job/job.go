package job

import (
	"crypto/rand"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Namespace is the state group all title jobs are stored under.
const Namespace = "youtube_title"

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the status may advance to the given one.
// A record only moves forward: queued -> processing -> {completed, failed}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type Record struct {
	ID         string    `json:"job_id"`
	Status     Status    `json:"status"`
	Email      string    `json:"email"`
	Channel    string    `json:"channel"`
	Title      string    `json:"title,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID generates a job id of the form job_<epoch-millis>_<9-char-base36>.
// The suffix is drawn from crypto/rand but the format is a convention, not a
// cryptographic guarantee; collisions are surfaced by the store, not masked.
func NewID(now time.Time) string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("job: read random id suffix: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return fmt.Sprintf("job_%d_%s", now.UnixMilli(), buf)
}
