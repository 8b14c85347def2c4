package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 5 * time.Minute},
		{3, 30 * time.Minute},
		{4, 30 * time.Minute},
		{0, 1 * time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	job, err := store.Enqueue(ctx, "reminder", json.RawMessage(`{"message_id":1}`), now, 4)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	t.Run("not due yet is not leased", func(t *testing.T) {
		future, _ := store.Enqueue(ctx, "reminder", nil, now.Add(time.Hour), 4)
		leased, err := store.Lease(ctx, now, now.Add(time.Minute), 10)
		if err != nil {
			t.Fatalf("lease: %v", err)
		}
		for _, l := range leased {
			if l.ID == future.ID {
				t.Errorf("leased a job not yet due")
			}
		}
	})

	t.Run("lease claims and increments attempts", func(t *testing.T) {
		got, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusRunning || got.Attempts != 1 {
			t.Fatalf("expected running with 1 attempt, got %s/%d", got.Status, got.Attempts)
		}
	})

	t.Run("complete", func(t *testing.T) {
		if err := store.Complete(ctx, job.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != StatusDone {
			t.Errorf("expected done, got %s", got.Status)
		}
	})
}

func TestMemoryStoreFailAndRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	job, _ := store.Enqueue(ctx, "reminder", nil, now, 2)

	lease := func() *Job {
		t.Helper()
		leased, err := store.Lease(ctx, time.Now().Add(31*time.Minute), time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("lease: %v", err)
		}
		for _, l := range leased {
			if l.ID == job.ID {
				return l
			}
		}
		t.Fatal("job not leased")
		return nil
	}

	// First failure requeues with backoff.
	leased := lease()
	if err := store.Fail(ctx, leased.ID, now, "smtp timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusQueued {
		t.Fatalf("expected requeued, got %s", got.Status)
	}
	if want := now.Add(1 * time.Minute).UTC(); !got.RunAt.Equal(want) {
		t.Errorf("expected retry at %v, got %v", want, got.RunAt)
	}
	if got.LastError != "smtp timeout" {
		t.Errorf("expected last error recorded, got %q", got.LastError)
	}

	// Second failure exhausts the budget.
	leased = lease()
	if err := store.Fail(ctx, leased.ID, now, "smtp timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ = store.Get(ctx, job.ID)
	if got.Status != StatusDead {
		t.Errorf("expected dead after max attempts, got %s", got.Status)
	}
}

func TestMemoryStoreReapAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	job, _ := store.Enqueue(ctx, "reminder", nil, now, 4)
	if _, err := store.Lease(ctx, now, now.Add(time.Minute), 10); err != nil {
		t.Fatalf("lease: %v", err)
	}

	t.Run("reap requeues expired leases", func(t *testing.T) {
		n, err := store.ReapExpired(ctx, now.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("reap: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 requeued, got %d", n)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != StatusQueued {
			t.Errorf("expected queued, got %s", got.Status)
		}
	})

	t.Run("prune removes old finished jobs", func(t *testing.T) {
		done, _ := store.Enqueue(ctx, "reminder", nil, now, 4)
		if _, err := store.Lease(ctx, now.Add(3*time.Minute), now.Add(time.Hour), 10); err != nil {
			t.Fatalf("lease: %v", err)
		}
		if err := store.Complete(ctx, done.ID); err != nil {
			t.Fatalf("complete: %v", err)
		}
		n, err := store.Prune(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("prune: %v", err)
		}
		if n < 1 {
			t.Errorf("expected at least 1 pruned, got %d", n)
		}
		if _, err := store.Get(ctx, done.ID); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected pruned job gone, got %v", err)
		}
	})
}

func TestWorkerRunOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	logger := zerolog.Nop()

	worker := NewWorker(store, WorkerConfig{Count: 1, Lease: time.Minute, BatchSize: 10}, logger)

	t.Run("dispatches to registered handler", func(t *testing.T) {
		var handled []int64
		worker.Register("reminder", func(ctx context.Context, job *Job) error {
			var p struct {
				MessageID int64 `json:"message_id"`
			}
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return err
			}
			handled = append(handled, p.MessageID)
			return nil
		})

		job, _ := store.Enqueue(ctx, "reminder", json.RawMessage(`{"message_id":42}`), time.Now().Add(-time.Second), 4)
		if err := worker.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		if len(handled) != 1 || handled[0] != 42 {
			t.Fatalf("expected handler invoked with 42, got %v", handled)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != StatusDone {
			t.Errorf("expected done, got %s", got.Status)
		}
	})

	t.Run("handler error requeues", func(t *testing.T) {
		worker.Register("flaky", func(ctx context.Context, job *Job) error {
			return errors.New("transient")
		})
		job, _ := store.Enqueue(ctx, "flaky", nil, time.Now().Add(-time.Second), 4)
		if err := worker.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != StatusQueued {
			t.Errorf("expected requeued, got %s", got.Status)
		}
		if got.LastError != "transient" {
			t.Errorf("expected error recorded, got %q", got.LastError)
		}
	})

	t.Run("unknown kind fails the job", func(t *testing.T) {
		job, _ := store.Enqueue(ctx, "mystery", nil, time.Now().Add(-time.Second), 1)
		if err := worker.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		got, _ := store.Get(ctx, job.ID)
		if got.Status != StatusDead {
			t.Errorf("expected dead with 1 max attempt, got %s", got.Status)
		}
	})
}
