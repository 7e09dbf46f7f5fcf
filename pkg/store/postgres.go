package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"title-pipeline/pkg/job"
)

var (
	// ErrNotFound is returned when no record exists under (namespace, id).
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateID is returned by writes for an id that already exists.
	// Existing records are never overwritten.
	ErrDuplicateID = errors.New("store: id already exists")
	// ErrInvalidTransition is returned when a status update would move a
	// record backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// OutboxMessage is one pending event publication, written in the same
// transaction as its job record.
type OutboxMessage struct {
	ID        string
	Namespace string
	JobID     string
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// Postgres is the durable job store. Writes are atomic per record; there are
// no cross-record transactions beyond the job+outbox pair.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// InitSchema creates the tables and types. Idempotent.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
    DO $$ BEGIN
        CREATE TYPE job_status AS ENUM ('queued', 'processing', 'completed', 'failed');
    EXCEPTION WHEN duplicate_object THEN NULL;
    END $$;
    CREATE TABLE IF NOT EXISTS jobs (
        namespace TEXT NOT NULL,
        id TEXT NOT NULL,
        status job_status NOT NULL DEFAULT 'queued',
        email TEXT NOT NULL,
        channel TEXT NOT NULL,
        title TEXT,
        fail_reason TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (namespace, id)
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

    -- Outbox rows guarantee an event for every stored job (at-least-once).
    CREATE TABLE IF NOT EXISTS job_outbox (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        namespace TEXT NOT NULL,
        job_id TEXT NOT NULL,
        topic TEXT NOT NULL,
        payload JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        FOREIGN KEY (namespace, job_id) REFERENCES jobs (namespace, id) ON DELETE CASCADE
    );
    `
	_, err := p.pool.Exec(ctx, schema)
	return err
}

const recordColumns = `id, status, email, channel, title, fail_reason, created_at, updated_at`

func scanRecord(row pgx.Row) (*job.Record, error) {
	rec := &job.Record{}
	var title, failReason sql.NullString
	err := row.Scan(&rec.ID, &rec.Status, &rec.Email, &rec.Channel, &title, &failReason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Title = title.String
	rec.FailReason = failReason.String
	return rec, nil
}

// Set inserts a record. A record that already exists under (namespace, id)
// yields ErrDuplicateID.
func (p *Postgres) Set(ctx context.Context, ns string, rec *job.Record) error {
	query := `INSERT INTO jobs (namespace, id, status, email, channel, created_at)
              VALUES ($1, $2, $3, $4, $5, $6)
              ON CONFLICT (namespace, id) DO NOTHING`
	tag, err := p.pool.Exec(ctx, query, ns, rec.ID, rec.Status, rec.Email, rec.Channel, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, ns, id string) (*job.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM jobs WHERE namespace = $1 AND id = $2`
	rec, err := scanRecord(p.pool.QueryRow(ctx, query, ns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (p *Postgres) Delete(ctx context.Context, ns, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE namespace = $1 AND id = $2`, ns, id)
	return err
}

// CreateWithOutbox inserts the job record and its outbox row in a single
// transaction, so the event can never be lost once the job is visible.
// Returns the outbox row id for deletion after an eager publish.
func (p *Postgres) CreateWithOutbox(ctx context.Context, ns string, rec *job.Record, topic string, payload []byte) (string, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	insertJob := `INSERT INTO jobs (namespace, id, status, email, channel, created_at)
                  VALUES ($1, $2, $3, $4, $5, $6)
                  ON CONFLICT (namespace, id) DO NOTHING`
	tag, err := tx.Exec(ctx, insertJob, ns, rec.ID, rec.Status, rec.Email, rec.Channel, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrDuplicateID
	}

	var outboxID string
	insertOutbox := `INSERT INTO job_outbox (namespace, job_id, topic, payload) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := tx.QueryRow(ctx, insertOutbox, ns, rec.ID, topic, payload).Scan(&outboxID); err != nil {
		return "", fmt.Errorf("insert outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return outboxID, nil
}

// Claim atomically advances a queued record to processing. A record already
// in processing is re-claimed: the broker hands each delivery to at most one
// consumer, so a redelivered event may finish a job whose outcome write
// failed. Returns nil if the record is missing or terminal; not an error.
func (p *Postgres) Claim(ctx context.Context, ns, id string) (*job.Record, error) {
	query := `
        UPDATE jobs
        SET status = 'processing', updated_at = NOW()
        WHERE namespace = $1 AND id = $2 AND status IN ('queued', 'processing')
        RETURNING ` + recordColumns
	rec, err := scanRecord(p.pool.QueryRow(ctx, query, ns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// MarkCompleted advances a processing record to completed, recording the
// generated title.
func (p *Postgres) MarkCompleted(ctx context.Context, ns, id, title string) error {
	query := `UPDATE jobs SET status = 'completed', title = $3, updated_at = NOW()
              WHERE namespace = $1 AND id = $2 AND status = 'processing'`
	return p.guardedUpdate(ctx, ns, id, query, title)
}

// MarkFailed advances a processing record to failed with the failure reason.
func (p *Postgres) MarkFailed(ctx context.Context, ns, id, reason string) error {
	query := `UPDATE jobs SET status = 'failed', fail_reason = $3, updated_at = NOW()
              WHERE namespace = $1 AND id = $2 AND status = 'processing'`
	return p.guardedUpdate(ctx, ns, id, query, reason)
}

func (p *Postgres) guardedUpdate(ctx context.Context, ns, id, query string, arg string) error {
	tag, err := p.pool.Exec(ctx, query, ns, id, arg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.Get(ctx, ns, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// FetchOutbox returns up to limit outbox rows older than minAge, oldest
// first. The age floor keeps the sweep from racing the ingress handler's own
// publish-then-delete; overlap only costs a duplicate delivery.
func (p *Postgres) FetchOutbox(ctx context.Context, minAge time.Duration, limit int) ([]OutboxMessage, error) {
	query := `SELECT id, namespace, job_id, topic, payload, created_at FROM job_outbox
              WHERE created_at < NOW() - ($1 * interval '1 second')
              ORDER BY created_at LIMIT $2`
	rows, err := p.pool.Query(ctx, query, minAge.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Namespace, &m.JobID, &m.Topic, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteOutbox removes an outbox row after its event has been published.
func (p *Postgres) DeleteOutbox(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM job_outbox WHERE id = $1`, id)
	return err
}
