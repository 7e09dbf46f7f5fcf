package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"title-pipeline/pkg/job"
	"title-pipeline/pkg/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedQueued(t *testing.T, st *store.Memory, id string) {
	t.Helper()
	err := st.Set(context.Background(), job.Namespace, &job.Record{
		ID:        id,
		Status:    job.StatusQueued,
		Email:     "a@b.com",
		Channel:   "tech",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestHandleEventCompletes(t *testing.T) {
	st := store.NewMemory()
	seedQueued(t, st, "job_1_a")
	p := New(st, discardLogger())

	result, err := p.HandleEvent(context.Background(), job.TitleRequested{JobID: "job_1_a", Email: "a@b.com", Channel: "tech"})
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, result)

	rec, err := st.Get(context.Background(), job.Namespace, "job_1_a")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Equal(t, "Working title for tech", rec.Title)
	assert.Empty(t, rec.FailReason)
}

func TestHandleEventGeneratorFailure(t *testing.T) {
	st := store.NewMemory()
	seedQueued(t, st, "job_1_a")
	p := New(st, discardLogger()).WithGenerator(func(ctx context.Context, email, channel string) (string, error) {
		return "", errors.New("model unavailable")
	})

	result, err := p.HandleEvent(context.Background(), job.TitleRequested{JobID: "job_1_a", Email: "a@b.com", Channel: "tech"})
	require.NoError(t, err, "a recorded failure is a handled event")
	assert.Equal(t, ResultFailed, result)

	rec, err := st.Get(context.Background(), job.Namespace, "job_1_a")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Equal(t, "model unavailable", rec.FailReason)
}

func TestHandleEventMissingJob(t *testing.T) {
	st := store.NewMemory()
	p := New(st, discardLogger())

	result, err := p.HandleEvent(context.Background(), job.TitleRequested{JobID: "job_missing"})
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)
}

func TestHandleEventRedelivery(t *testing.T) {
	st := store.NewMemory()
	seedQueued(t, st, "job_1_a")
	p := New(st, discardLogger())
	evt := job.TitleRequested{JobID: "job_1_a", Email: "a@b.com", Channel: "tech"}

	result, err := p.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, ResultCompleted, result)

	// The duplicate delivery is acknowledged without touching the record.
	result, err = p.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	rec, err := st.Get(context.Background(), job.Namespace, "job_1_a")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Status)
}

// flakyStore fails the first outcome writes, then heals.
type flakyStore struct {
	*store.Memory
	failures int
}

func (f *flakyStore) MarkCompleted(ctx context.Context, ns, id, title string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Memory.MarkCompleted(ctx, ns, id, title)
}

func TestHandleEventRetryAfterOutcomeWriteFailure(t *testing.T) {
	mem := store.NewMemory()
	seedQueued(t, mem, "job_1_a")
	st := &flakyStore{Memory: mem, failures: 1}
	p := New(st, discardLogger())
	evt := job.TitleRequested{JobID: "job_1_a", Email: "a@b.com", Channel: "tech"}

	// First delivery claims the job but cannot record the outcome; the
	// error surfaces so the event is redelivered.
	_, err := p.HandleEvent(context.Background(), evt)
	require.Error(t, err)
	rec, err := mem.Get(context.Background(), job.Namespace, "job_1_a")
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, rec.Status)

	// The redelivery re-claims the processing record and finishes it.
	result, err := p.HandleEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, result)

	rec, err = mem.Get(context.Background(), job.Namespace, "job_1_a")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rec.Status)
	assert.Equal(t, "Working title for tech", rec.Title)
}

type brokenStore struct{ err error }

func (b *brokenStore) Claim(ctx context.Context, ns, id string) (*job.Record, error) {
	return nil, b.err
}

func (b *brokenStore) MarkCompleted(ctx context.Context, ns, id, title string) error { return b.err }
func (b *brokenStore) MarkFailed(ctx context.Context, ns, id, reason string) error   { return b.err }

func TestHandleEventTransientStoreFailure(t *testing.T) {
	p := New(&brokenStore{err: errors.New("connection refused")}, discardLogger())

	_, err := p.HandleEvent(context.Background(), job.TitleRequested{JobID: "job_1_a"})
	require.Error(t, err, "transient store failures must surface so the event is redelivered")
}
