// Package scheduler runs the end-of-day and nightly stress batches on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/risk-engine/internal/risk"
	"github.com/atmx/risk-engine/internal/stress"
)

// Jobs are the batches the scheduler triggers. *risk.Service satisfies it.
type Jobs interface {
	RunEOD(ctx context.Context, date time.Time) ([]risk.EODReport, error)
	RunNightlyStress(ctx context.Context) (map[string][]stress.ScenarioOutcome, error)
}

// Specs are standard five-field cron expressions. An empty spec disables the
// job.
type Specs struct {
	EOD    string
	Stress string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	log  *slog.Logger
	now  func() time.Time

	mu  sync.Mutex
	ctx context.Context
}

// New registers the jobs named in specs. Schedules are evaluated in UTC and
// a job still running when its next tick fires is skipped.
func New(jobs Jobs, specs Specs, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs: jobs,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
		ctx:  context.Background(),
	}
	if specs.EOD != "" {
		if _, err := s.cron.AddFunc(specs.EOD, s.runEOD); err != nil {
			return nil, fmt.Errorf("eod schedule %q: %w", specs.EOD, err)
		}
	}
	if specs.Stress != "" {
		if _, err := s.cron.AddFunc(specs.Stress, s.runStress); err != nil {
			return nil, fmt.Errorf("stress schedule %q: %w", specs.Stress, err)
		}
	}
	return s, nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Run starts the scheduler and blocks until ctx is done, then waits for any
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started", "jobs", s.Jobs())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runEOD() {
	date := s.now()
	reports, err := s.jobs.RunEOD(s.context(), date)
	if err != nil {
		s.log.Error("scheduled eod finished with errors", "date", date.Format(time.DateOnly), "portfolios", len(reports), "error", err)
		return
	}
	s.log.Info("scheduled eod finished", "date", date.Format(time.DateOnly), "portfolios", len(reports))
}

func (s *Scheduler) runStress() {
	out, err := s.jobs.RunNightlyStress(s.context())
	if err != nil {
		s.log.Error("scheduled stress run failed", "portfolios", len(out), "error", err)
		return
	}
	s.log.Info("scheduled stress run finished", "portfolios", len(out))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
