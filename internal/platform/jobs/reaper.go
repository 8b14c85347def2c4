package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// pruneRetention keeps finished jobs around for a week before the nightly
// prune removes them.
const pruneRetention = 7 * 24 * time.Hour

// Reaper runs background maintenance over the job table: requeueing jobs
// whose lease expired (worker crash) and pruning old finished jobs.
type Reaper struct {
	store  Store
	logger zerolog.Logger
	cron   *cron.Cron
}

func NewReaper(store Store, logger zerolog.Logger) *Reaper {
	return &Reaper{
		store:  store,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the maintenance jobs and launches the cron scheduler.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc("@every 1m", r.reap); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("0 3 * * *", r.prune); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any running maintenance job.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reaper) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.store.ReapExpired(ctx, time.Now())
	if err != nil {
		r.logger.Error().Err(err).Msg("reaping expired job leases")
		return
	}
	if n > 0 {
		r.logger.Info().Int64("requeued", n).Msg("requeued jobs with expired leases")
	}
}

func (r *Reaper) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := r.store.Prune(ctx, time.Now().Add(-pruneRetention))
	if err != nil {
		r.logger.Error().Err(err).Msg("pruning finished jobs")
		return
	}
	if n > 0 {
		r.logger.Info().Int64("pruned", n).Msg("pruned finished jobs")
	}
}
