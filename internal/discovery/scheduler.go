package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job re-discovers every configured source and publishes the snapshots.
type Job interface {
	RediscoverAll(ctx context.Context) error
}

// Scheduler runs a Job on a cron schedule. A run that is still going when
// the next tick fires makes that tick a no-op.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron
}

// NewScheduler validates the cron spec (standard five fields or a
// descriptor such as "@hourly").
func NewScheduler(spec string, job Job) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid discovery schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec: spec,
		job:  job,
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start schedules the job and blocks until ctx is cancelled. A run in
// progress at shutdown is cancelled and awaited.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := s.cron.AddFunc(s.spec, func() { s.run(runCtx) }); err != nil {
		return fmt.Errorf("schedule discovery: %w", err)
	}
	s.cron.Start()
	slog.Info("[Scheduler] Starting re-discovery scheduler", "schedule", s.spec)

	<-ctx.Done()
	slog.Info("[Scheduler] Stopping (context cancelled)")
	cancel()
	<-s.cron.Stop().Done()
	slog.Info("[Scheduler] Stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	started := time.Now()
	slog.Info("[Scheduler] Re-discovery started")
	if err := s.job.RediscoverAll(ctx); err != nil {
		slog.Error("[Scheduler] Re-discovery failed",
			"error", err,
			"duration", time.Since(started),
		)
		return
	}
	slog.Info("[Scheduler] Re-discovery completed", "duration", time.Since(started))
}
