package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNeverSeen indicates no activity has ever been recorded for a user.
var ErrNeverSeen = errors.New("presence: user never seen")

// Tracker records and reports when each user was last active.
type Tracker interface {
	Touch(ctx context.Context, userID string, at time.Time) error
	LastActive(ctx context.Context, userID string) (time.Time, error)
}

// presenceTTL bounds how long last-active entries are retained. Anyone
// inactive longer than this is treated as never seen, which is equivalent
// for reminder purposes.
const presenceTTL = 30 * 24 * time.Hour

// RedisTracker stores last-active timestamps in Redis.
type RedisTracker struct {
	client *redis.Client
}

func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func presenceKey(userID string) string {
	return "presence:last_active:" + userID
}

func (t *RedisTracker) Touch(ctx context.Context, userID string, at time.Time) error {
	if err := t.client.Set(ctx, presenceKey(userID), at.UTC().Format(time.RFC3339Nano), presenceTTL).Err(); err != nil {
		return fmt.Errorf("presence touch %s: %w", userID, err)
	}
	return nil
}

func (t *RedisTracker) LastActive(ctx context.Context, userID string) (time.Time, error) {
	raw, err := t.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNeverSeen
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("presence lookup %s: %w", userID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("presence parse %s: %w", userID, err)
	}
	return ts, nil
}

// MemoryTracker is an in-process Tracker for tests and single-node setups.
type MemoryTracker struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{seen: make(map[string]time.Time)}
}

func (t *MemoryTracker) Touch(ctx context.Context, userID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[userID] = at.UTC()
	return nil
}

func (t *MemoryTracker) LastActive(ctx context.Context, userID string) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.seen[userID]
	if !ok {
		return time.Time{}, ErrNeverSeen
	}
	return ts, nil
}
