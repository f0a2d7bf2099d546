package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Expirer times out abandoned sessions.
type Expirer interface {
	ExpireOverdue(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// TimeoutSweeper periodically moves sessions left IN_PROGRESS past their
// deadline plus grace to TIMEOUT.
type TimeoutSweeper struct {
	expirer  Expirer
	schedule string
	grace    time.Duration
	limit    int
	log      zerolog.Logger
}

func NewTimeoutSweeper(expirer Expirer, schedule string, grace time.Duration, limit int, log zerolog.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{
		expirer:  expirer,
		schedule: schedule,
		grace:    grace,
		limit:    limit,
		log:      log.With().Str("component", "timeout_sweeper").Logger(),
	}
}

// Start schedules the sweep and blocks until ctx is done.
func (w *TimeoutSweeper) Start(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.Sweep(ctx) }); err != nil {
		w.log.Error().Err(err).Str("schedule", w.schedule).Msg("Invalid sweep schedule, sweeper disabled")
		return
	}

	w.log.Info().Str("schedule", w.schedule).Dur("grace", w.grace).Msg("TimeoutSweeper started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info().Msg("TimeoutSweeper stopped")
}

// Sweep runs one pass. Batches are repeated while full.
func (w *TimeoutSweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		n, err := w.expirer.ExpireOverdue(runCtx, w.grace, w.limit)
		cancel()
		if err != nil {
			w.log.Error().Err(err).Msg("Sweep failed")
			break
		}
		total += n
		if w.limit <= 0 || n < w.limit {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("expired", total).Msg("Overdue sessions timed out")
	}
	return total
}
