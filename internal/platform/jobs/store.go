package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists deferred jobs.
type Store interface {
	// Enqueue schedules a job of the given kind to run at or after runAt.
	Enqueue(ctx context.Context, kind string, payload json.RawMessage, runAt time.Time, maxAttempts int) (*Job, error)
	// Lease claims up to limit due jobs, marking them running until
	// lockedUntil. Claimed jobs are invisible to other workers until the
	// lease expires.
	Lease(ctx context.Context, now time.Time, lockedUntil time.Time, limit int) ([]*Job, error)
	// Complete marks a job done.
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records a failed attempt. The job is requeued with backoff, or
	// marked dead once attempts reach maxAttempts.
	Fail(ctx context.Context, id uuid.UUID, at time.Time, cause string) error
	// ReapExpired requeues running jobs whose lease has lapsed.
	ReapExpired(ctx context.Context, now time.Time) (int64, error)
	// Prune deletes done and dead jobs older than the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
	// Get returns a job by ID.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
}

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, kind string, payload json.RawMessage, runAt time.Time, maxAttempts int) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		RunAt:       runAt.UTC(),
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) Lease(ctx context.Context, now time.Time, lockedUntil time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, j := range s.jobs {
		if j.Status == StatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		lu := lockedUntil.UTC()
		j.Status = StatusRunning
		j.LockedUntil = &lu
		j.Attempts++
		j.UpdatedAt = now.UTC()
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = StatusDone
	j.LockedUntil = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, at time.Time, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.LastError = cause
	j.LockedUntil = nil
	j.UpdatedAt = at.UTC()
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDead
		return nil
	}
	j.Status = StatusQueued
	j.RunAt = at.Add(RetryDelay(j.Attempts)).UTC()
	return nil
}

func (s *MemoryStore) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == StatusRunning && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.Status = StatusQueued
			j.LockedUntil = nil
			j.UpdatedAt = now.UTC()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if (j.Status == StatusDone || j.Status == StatusDead) && j.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}
