// Package jobs is a durable job queue stored next to the application
// data, plus a worker pool that runs registered handlers with retry
// and backoff. Delivery is at-least-once: a job whose worker dies is
// reclaimed after its lease expires.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/clock"
)

// State is the lifecycle of a job row.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// DefaultLease is how long a claimed job may run before another worker
// may take it over.
const DefaultLease = 10 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	payload     BLOB,
	state       TEXT NOT NULL,
	attempt     INTEGER NOT NULL DEFAULT 0,
	run_at      INTEGER NOT NULL,
	lease_until INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	result      BLOB,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_due_idx ON jobs(state, run_at);
`

// Job is a claimed unit of work handed to a Handler.
type Job struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Payload []byte `db:"payload"`
	Attempt int    `db:"attempt"`
}

// Decode unpacks the job arguments into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	if err := unmarshal(j.Payload, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "malformed job payload")
	}
	return nil
}

// Record is the stored state of a job, for status queries.
type Record struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	State     State  `db:"state"`
	Attempt   int    `db:"attempt"`
	RunAt     int64  `db:"run_at"`
	LastError string `db:"last_error"`
	Result    []byte `db:"result"`
}

// DecodeResult unpacks the stored result into v.
func (r *Record) DecodeResult(v any) error {
	if len(r.Result) == 0 {
		return errors.New("job has no result")
	}
	return unmarshal(r.Result, v)
}

// FailureResult is recorded when a job terminally fails.
type FailureResult struct {
	Success bool   `cbor:"success"`
	Error   string `cbor:"error"`
}

// Queue persists jobs.
type Queue struct {
	db    *sqlx.DB
	clock clock.Clock
	lease time.Duration
	log   zerolog.Logger
}

// NewQueue creates the jobs table if needed.
func NewQueue(ctx context.Context, db *sqlx.DB, clk clock.Clock, log zerolog.Logger) (*Queue, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}
	return &Queue{
		db:    db,
		clock: clk,
		lease: DefaultLease,
		log:   log.With().Str("component", "jobs").Logger(),
	}, nil
}

// Enqueue stores a job to run as soon as a worker is free and returns
// its id. It does not wait for the job to run.
func (q *Queue) Enqueue(ctx context.Context, name string, args any) (string, error) {
	payload, err := marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	id := uuid.NewString()
	now := q.clock.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, payload, state, run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, payload, StatePending, now, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}
	q.log.Debug().Str("job_id", id).Str("job", name).Msg("Job enqueued")
	return id, nil
}

// Get returns the stored state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := q.db.GetContext(ctx, &r,
		`SELECT id, name, state, attempt, run_at, last_error, result FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "We couldn't find that job.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return &r, nil
}

// List returns jobs with the given name, oldest first.
func (q *Queue) List(ctx context.Context, name string) ([]Record, error) {
	var records []Record
	err := q.db.SelectContext(ctx, &records,
		`SELECT id, name, state, attempt, run_at, last_error, result FROM jobs WHERE name = ? ORDER BY created_at, rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return records, nil
}

// claim atomically takes the oldest due job, or an expired running
// one. It returns nil when nothing is due.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := q.clock.Now().UnixMilli()
	var job Job
	err := q.db.QueryRowxContext(ctx,
		`UPDATE jobs SET state = ?, lease_until = ?, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE (state = ? AND run_at <= ?) OR (state = ? AND lease_until <= ?)
			ORDER BY run_at, rowid
			LIMIT 1
		 )
		 RETURNING id, name, payload, attempt`,
		StateRunning, now+q.lease.Milliseconds(), now,
		StatePending, now, StateRunning, now,
	).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

func (q *Queue) succeed(ctx context.Context, job *Job, result any) error {
	data, err := marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode %s result: %w", job.Name, err)
	}
	return q.finish(ctx, job.ID, StateSucceeded, "", data)
}

func (q *Queue) fail(ctx context.Context, job *Job, cause error) error {
	data, err := marshal(FailureResult{Success: false, Error: cause.Error()})
	if err != nil {
		return fmt.Errorf("failed to encode %s failure: %w", job.Name, err)
	}
	return q.finish(ctx, job.ID, StateFailed, cause.Error(), data)
}

func (q *Queue) finish(ctx context.Context, id string, state State, lastError string, result []byte) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, last_error = ?, result = ?, lease_until = 0, updated_at = ? WHERE id = ?`,
		state, lastError, result, q.clock.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func (q *Queue) reschedule(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	now := q.clock.Now()
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempt = attempt + 1, run_at = ?, lease_until = 0, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		StatePending, now.Add(delay).UnixMilli(), cause.Error(), now.UnixMilli(), job.ID)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	return nil
}
