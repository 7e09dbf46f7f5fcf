package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"title-pipeline/pkg/job"
)

// Memory is an in-process store with the same contract as Postgres. It backs
// unit tests and local runs without a database.
type Memory struct {
	mu      sync.Mutex
	records map[string]*job.Record
	outbox  []OutboxMessage
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*job.Record)}
}

func memKey(ns, id string) string { return ns + "/" + id }

func copyRecord(rec *job.Record) *job.Record {
	c := *rec
	return &c
}

func (m *Memory) Set(ctx context.Context, ns string, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(ns, rec.ID)
	if _, ok := m.records[key]; ok {
		return ErrDuplicateID
	}
	m.records[key] = copyRecord(rec)
	return nil
}

func (m *Memory) Get(ctx context.Context, ns, id string) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memKey(ns, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *Memory) Delete(ctx context.Context, ns, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memKey(ns, id))
	return nil
}

func (m *Memory) CreateWithOutbox(ctx context.Context, ns string, rec *job.Record, topic string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(ns, rec.ID)
	if _, ok := m.records[key]; ok {
		return "", ErrDuplicateID
	}
	m.records[key] = copyRecord(rec)
	msg := OutboxMessage{
		ID:        uuid.NewString(),
		Namespace: ns,
		JobID:     rec.ID,
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	}
	m.outbox = append(m.outbox, msg)
	return msg.ID, nil
}

func (m *Memory) Claim(ctx context.Context, ns, id string) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memKey(ns, id)]
	if !ok || rec.Status.Terminal() {
		return nil, nil
	}
	rec.Status = job.StatusProcessing
	rec.UpdatedAt = time.Now()
	return copyRecord(rec), nil
}

func (m *Memory) MarkCompleted(ctx context.Context, ns, id, title string) error {
	return m.finish(ns, id, job.StatusCompleted, title, "")
}

func (m *Memory) MarkFailed(ctx context.Context, ns, id, reason string) error {
	return m.finish(ns, id, job.StatusFailed, "", reason)
}

func (m *Memory) finish(ns, id string, status job.Status, title, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[memKey(ns, id)]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransition(status) {
		return ErrInvalidTransition
	}
	rec.Status = status
	rec.Title = title
	rec.FailReason = reason
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) FetchOutbox(ctx context.Context, minAge time.Duration, limit int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-minAge)
	var messages []OutboxMessage
	for _, msg := range m.outbox {
		if len(messages) == limit {
			break
		}
		if msg.CreatedAt.Before(cutoff) {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (m *Memory) DeleteOutbox(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.outbox {
		if msg.ID == id {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			break
		}
	}
	return nil
}
