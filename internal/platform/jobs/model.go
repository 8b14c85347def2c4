package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// ErrJobNotFound indicates the referenced job does not exist.
var ErrJobNotFound = errors.New("jobs: job not found")

// Job is a unit of deferred work persisted until it completes or is
// exhausted. Execution is at-least-once; handlers must tolerate replays.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       time.Time       `json:"run_at"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// retryDelays is the backoff ladder applied between failed attempts.
// Attempt n waits retryDelays[n-1]; past the end, the last entry repeats.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
}

// RetryDelay returns how long to wait before the given attempt number
// (1-based) is retried.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelays) {
		attempt = len(retryDelays)
	}
	return retryDelays[attempt-1]
}
