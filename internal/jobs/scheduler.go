package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"storefront/worker/internal/config"
	"storefront/worker/internal/metrics"
)

const sweepTimeout = 30 * time.Second

type StalledJobs interface {
	FailStalled(ctx context.Context, before time.Time, message string) ([]string, error)
	FailPending(ctx context.Context, before time.Time, message string) ([]string, error)
}

// Scheduler periodically fails jobs left in PROCESSING by a worker that died
// mid-run, and jobs that stayed PENDING because their trigger never reached a
// worker, so they do not stay non-terminal forever.
type Scheduler struct {
	cron         *cron.Cron
	jobs         StalledJobs
	metrics      *metrics.Metrics
	log          zerolog.Logger
	schedule     string
	stalledAfter time.Duration
	pendingAfter time.Duration
	now          func() time.Time
}

func NewScheduler(jobs StalledJobs, cfg config.SweeperConfig, m *metrics.Metrics, log zerolog.Logger) *Scheduler {
	if m == nil {
		m = metrics.Nop()
	}
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds()),
		jobs:         jobs,
		metrics:      m,
		log:          log,
		schedule:     cfg.Schedule,
		stalledAfter: cfg.StalledAfter,
		pendingAfter: cfg.PendingAfter,
		now:          time.Now,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule. The returned context is done once a running sweep
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("stalled job sweep failed")
	}
}

// Sweep fails every job that has been PROCESSING or PENDING for longer than
// its threshold and returns their ids. A zero pending threshold leaves
// PENDING jobs alone.
func (s *Scheduler) Sweep(ctx context.Context) ([]string, error) {
	now := s.now()

	ids, err := s.jobs.FailStalled(ctx, now.Add(-s.stalledAfter),
		fmt.Sprintf("processing stalled: no progress for %s", s.stalledAfter))
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.metrics.StalledFailed(len(ids))
		s.log.Warn().Strs("job_ids", ids).Msg("failed stalled jobs")
	}

	if s.pendingAfter <= 0 {
		return ids, nil
	}
	pending, err := s.jobs.FailPending(ctx, now.Add(-s.pendingAfter),
		fmt.Sprintf("never started: still pending after %s", s.pendingAfter))
	if err != nil {
		return ids, err
	}
	if len(pending) > 0 {
		s.metrics.StalledFailed(len(pending))
		s.log.Warn().Strs("job_ids", pending).Msg("failed jobs that never started")
	}
	return append(ids, pending...), nil
}
