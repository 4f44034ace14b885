// Package scheduler runs the engine's background jobs on cron schedules.
//
// JOBS:
//   alert-scan     AlertGenerator.Publish over every active ownership row
//   consolidation  ConsolidationService.Sweep over every open opportunity
//
// DESIGN:
//   - robfig/cron/v3 with the standard 5-field parser
//   - each run gets its own timeout context
//   - a job never overlaps itself (cron.SkipIfStillRunning)
//   - failures are logged; the next tick runs normally
//
// USAGE:
//   s := scheduler.New(alerts, consolidation, log)
//   s.Schedule("*/15 * * * *", "0 2 * * *")
//   s.Start()
//   defer s.Stop()
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/gold"
)

const (
	JobAlertScan     = "alert-scan"
	JobConsolidation = "consolidation"

	jobTimeout  = 2 * time.Minute
	systemActor = "system:scheduler"
)

type AlertPublisher interface {
	Publish(ctx context.Context, filter gold.OwnershipFilter) ([]gold.Alert, error)
}

type Consolidator interface {
	Sweep(ctx context.Context, actor string) (int, error)
}

// Run is the outcome of one job execution.
type Run struct {
	Job        string
	StartedAt  time.Time
	FinishedAt time.Time
	Count      int
	Err        error
}

type Scheduler struct {
	cron          *cron.Cron
	alerts        AlertPublisher
	consolidation Consolidator
	logger        *zap.Logger

	mu   sync.Mutex
	last map[string]Run
}

func New(alerts AlertPublisher, consolidation Consolidator, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{
		cron:          c,
		alerts:        alerts,
		consolidation: consolidation,
		logger:        logger,
		last:          make(map[string]Run),
	}
}

// Schedule registers both jobs. An empty spec leaves that job unscheduled.
func (s *Scheduler) Schedule(alertSpec, consolidationSpec string) error {
	if alertSpec != "" && s.alerts != nil {
		if _, err := s.cron.AddFunc(alertSpec, func() { s.RunAlertScan(context.Background()) }); err != nil {
			return err
		}
		s.logger.Info("job scheduled", zap.String("job", JobAlertScan), zap.String("spec", alertSpec))
	}
	if consolidationSpec != "" && s.consolidation != nil {
		if _, err := s.cron.AddFunc(consolidationSpec, func() { s.RunConsolidation(context.Background()) }); err != nil {
			return err
		}
		s.logger.Info("job scheduled", zap.String("job", JobConsolidation), zap.String("spec", consolidationSpec))
	}
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RunAlertScan(ctx context.Context) Run {
	return s.run(ctx, JobAlertScan, func(ctx context.Context) (int, error) {
		alerts, err := s.alerts.Publish(ctx, gold.OwnershipFilter{})
		return len(alerts), err
	})
}

func (s *Scheduler) RunConsolidation(ctx context.Context) Run {
	return s.run(ctx, JobConsolidation, func(ctx context.Context) (int, error) {
		return s.consolidation.Sweep(ctx, systemActor)
	})
}

// LastRun returns the most recent run of job.
func (s *Scheduler) LastRun(job string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[job]
	return r, ok
}

func (s *Scheduler) run(ctx context.Context, job string, fn func(context.Context) (int, error)) Run {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	r := Run{Job: job, StartedAt: time.Now().UTC()}
	r.Count, r.Err = fn(ctx)
	r.FinishedAt = time.Now().UTC()

	if r.Err != nil {
		s.logger.Error("job failed", zap.String("job", job), zap.Error(r.Err))
	} else {
		s.logger.Info("job finished",
			zap.String("job", job),
			zap.Int("count", r.Count),
			zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)))
	}

	s.mu.Lock()
	s.last[job] = r
	s.mu.Unlock()
	return r
}
