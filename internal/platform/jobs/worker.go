package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler executes one job. A nil error completes the job; any error
// schedules a retry until the job's attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig tunes the polling worker pool.
type WorkerConfig struct {
	// Count is the number of concurrent worker goroutines.
	Count int
	// PollInterval is how often idle workers look for due jobs.
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible to other workers.
	Lease time.Duration
	// BatchSize caps how many jobs a single poll claims.
	BatchSize int
}

// Worker polls the store for due jobs and dispatches them to registered
// handlers.
type Worker struct {
	store    Store
	cfg      WorkerConfig
	logger   zerolog.Logger
	handlers map[string]Handler

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewWorker(store Store, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.Count < 1 {
		cfg.Count = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &Worker{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (w *Worker) Register(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start launches the worker goroutines. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(w.done)
	}()
}

// Stop signals workers to finish their current job and waits for them.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done, running := w.cancel, w.done, w.running
	w.running = false
	w.mu.Unlock()
	if !running {
		return
	}
	cancel()
	<-done
}

func (w *Worker) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error().Err(err).Int("worker", id).Msg("job poll failed")
			}
		}
	}
}

// RunOnce claims and processes one batch of due jobs. Exported so tests
// and the reaper can drive the queue without the polling loop.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := time.Now()
	leased, err := w.store.Lease(ctx, now, now.Add(w.cfg.Lease), w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("leasing batch: %w", err)
	}

	for _, job := range leased {
		w.process(ctx, job)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.logger.Error().Str("kind", job.Kind).Stringer("job_id", job.ID).
			Msg("no handler registered for job kind")
		if err := w.store.Fail(ctx, job.ID, time.Now(), "no handler registered"); err != nil {
			w.logger.Error().Err(err).Stringer("job_id", job.ID).Msg("recording failure")
		}
		return
	}

	if err := handler(ctx, job); err != nil {
		w.logger.Warn().Err(err).
			Str("kind", job.Kind).
			Stringer("job_id", job.ID).
			Int("attempt", job.Attempts).
			Msg("job attempt failed")
		if ferr := w.store.Fail(ctx, job.ID, time.Now(), err.Error()); ferr != nil {
			w.logger.Error().Err(ferr).Stringer("job_id", job.ID).Msg("recording failure")
		}
		return
	}

	if err := w.store.Complete(ctx, job.ID); err != nil {
		w.logger.Error().Err(err).Stringer("job_id", job.ID).Msg("completing job")
	}
}
