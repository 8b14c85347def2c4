package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careinbox/careinbox/internal/platform/db"
)

// PGStore is a Postgres-backed Store. Leasing relies on
// FOR UPDATE SKIP LOCKED so concurrent workers never claim the same job.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const jobColumns = `id, kind, payload, run_at, status, attempts, max_attempts, locked_until, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var lastError *string
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.RunAt, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.LockedUntil, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}

func (s *PGStore) Enqueue(ctx context.Context, kind string, payload json.RawMessage, runAt time.Time, maxAttempts int) (*Job, error) {
	query := fmt.Sprintf(`
		INSERT INTO jobs (id, kind, payload, run_at, status, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, jobColumns)

	row := s.conn(ctx).QueryRow(ctx, query,
		uuid.New(), kind, payload, runAt.UTC(), StatusQueued, maxAttempts)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return job, nil
}

func (s *PGStore) Lease(ctx context.Context, now time.Time, lockedUntil time.Time, limit int) ([]*Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET
			status = $1,
			locked_until = $2,
			attempts = attempts + 1,
			updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $3 AND run_at <= $4
			ORDER BY run_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, jobColumns)

	rows, err := s.conn(ctx).Query(ctx, query,
		StatusRunning, lockedUntil.UTC(), StatusQueued, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("leasing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning leased job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PGStore) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE jobs SET status = $1, locked_until = NULL, updated_at = now()
		WHERE id = $2`, StatusDone, id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PGStore) Fail(ctx context.Context, id uuid.UUID, at time.Time, cause string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if job.Attempts >= job.MaxAttempts {
		_, err = s.conn(ctx).Exec(ctx, `
			UPDATE jobs SET status = $1, locked_until = NULL, last_error = $2, updated_at = now()
			WHERE id = $3`, StatusDead, cause, id)
		if err != nil {
			return fmt.Errorf("marking job %s dead: %w", id, err)
		}
		return nil
	}

	retryAt := at.Add(RetryDelay(job.Attempts)).UTC()
	_, err = s.conn(ctx).Exec(ctx, `
		UPDATE jobs SET status = $1, run_at = $2, locked_until = NULL, last_error = $3, updated_at = now()
		WHERE id = $4`, StatusQueued, retryAt, cause, id)
	if err != nil {
		return fmt.Errorf("requeueing job %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE jobs SET status = $1, locked_until = NULL, updated_at = now()
		WHERE status = $2 AND locked_until < $3`,
		StatusQueued, StatusRunning, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("reaping expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND updated_at < $3`,
		StatusDone, StatusDead, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	job, err := scanJob(s.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return job, nil
}
