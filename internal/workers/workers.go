package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"snapfuseAPI/internal/types/job"
)

const sweepBatchSize = 100

// JobExpirer is the part of the job service the sweeper needs.
type JobExpirer interface {
	ListStaleJobs(ctx context.Context, kind job.Kind, before time.Time, limit int) ([]job.Job, error)
	ExpireJob(ctx context.Context, kind job.Kind, requestID string) (*job.Transition, error)
}

// StaleJobSweeper fails and refunds jobs whose provider webhook never arrived.
type StaleJobSweeper struct {
	jobs       JobExpirer
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewStaleJobSweeper(jobs JobExpirer, staleAfter time.Duration, logger zerolog.Logger) *StaleJobSweeper {
	return &StaleJobSweeper{
		jobs:       jobs,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With().Str("worker", "stale_job_sweeper").Logger(),
	}
}

// Sweep expires every stale job and returns how many were refunded.
func (w *StaleJobSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.staleAfter)
	expired := 0

	for _, kind := range []job.Kind{job.KindImage, job.KindVideo} {
		for {
			stale, err := w.jobs.ListStaleJobs(ctx, kind, cutoff, sweepBatchSize)
			if err != nil {
				return expired, err
			}

			progressed := false
			for _, j := range stale {
				tr, err := w.jobs.ExpireJob(ctx, kind, j.RequestID)
				if err != nil {
					w.logger.Error().Err(err).Str("kind", string(kind)).Str("request_id", j.RequestID).Msg("failed to expire job")
					continue
				}
				if tr.Applied {
					expired++
					progressed = true
				}
			}

			if len(stale) < sweepBatchSize || !progressed {
				break
			}
		}
	}
	return expired, nil
}

// Start schedules Sweep on spec and returns the running scheduler.
func (w *StaleJobSweeper) Start(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		n, err := w.Sweep(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("stale job sweep failed")
			return
		}
		if n > 0 {
			w.logger.Info().Int("expired", n).Msg("stale jobs expired and refunded")
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	w.logger.Info().Str("schedule", spec).Dur("stale_after", w.staleAfter).Msg("stale job sweeper started")
	return c, nil
}
