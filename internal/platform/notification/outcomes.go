package notification

import (
	"sync"
	"time"
)

// Outcome classifies the result of evaluating a pending reminder.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeSuppressedMissing  Outcome = "suppressed_missing"
	OutcomeSuppressedActive   Outcome = "suppressed_active"
	OutcomeSuppressedSeen     Outcome = "suppressed_seen"
	OutcomeSuppressedCooldown Outcome = "suppressed_cooldown"
	OutcomeFailed             Outcome = "failed"
)

// OutcomeRecord is one evaluated reminder with its disposition.
type OutcomeRecord struct {
	MessageID  int64     `json:"message_id"`
	ReceiverID string    `json:"receiver_id"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// OutcomeLog keeps a bounded in-memory ring of recent reminder outcomes
// plus per-outcome counters, for operational inspection.
type OutcomeLog struct {
	mu      sync.RWMutex
	records []OutcomeRecord
	counts  map[Outcome]int64
	limit   int
}

const defaultOutcomeLimit = 500

func NewOutcomeLog() *OutcomeLog {
	return &OutcomeLog{
		counts: make(map[Outcome]int64),
		limit:  defaultOutcomeLimit,
	}
}

func (l *OutcomeLog) Record(rec OutcomeRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[rec.Outcome]++
	l.records = append(l.records, rec)
	if len(l.records) > l.limit {
		l.records = l.records[len(l.records)-l.limit:]
	}
}

// Recent returns up to n most recent records, newest first.
func (l *OutcomeLog) Recent(n int) []OutcomeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]OutcomeRecord, n)
	for i := 0; i < n; i++ {
		out[i] = l.records[len(l.records)-1-i]
	}
	return out
}

// Stats returns the cumulative count per outcome since startup.
func (l *OutcomeLog) Stats() map[Outcome]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Outcome]int64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}
