// Package scheduler runs scheduled scan jobs on their cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mediadup/internal/config"
	"mediadup/internal/db"
	"mediadup/internal/scan"
	"mediadup/internal/services"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	db      *db.DB
	scanner *services.Scanner
	parser  cron.Parser

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a new scheduler
func New(database *db.DB, scanner *services.Scanner) *Scheduler {
	return &Scheduler{
		db:      database,
		scanner: scanner,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	// Create cancellable context for all spawned jobs
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	// Wait for all spawned job goroutines to finish
	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs checks for jobs that need to run
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetEnabledJobs()
	if err != nil {
		slog.Error("scheduler: get enabled jobs", slog.Any("error", err))
		return
	}

	now := time.Now()

	for _, job := range jobs {
		if job.NextRunAt == nil {
			continue
		}

		if now.After(*job.NextRunAt) || now.Equal(*job.NextRunAt) {
			s.wg.Add(1)
			go s.runJob(ctx, job)
		}
	}
}

// runJob executes a scheduled job
func (s *Scheduler) runJob(ctx context.Context, job *db.ScheduledJob) {
	defer s.wg.Done()

	slog.Info("scheduler: running job", slog.Int64("job_id", job.ID), slog.String("name", job.Name))

	if ctx.Err() != nil {
		slog.Info("scheduler: job cancelled before start", slog.Int64("job_id", job.ID))
		return
	}

	if len(job.Paths) == 0 {
		slog.Warn("scheduler: no paths configured for job", slog.Int64("job_id", job.ID))
		return
	}

	cfg := &services.ScanConfig{
		Paths:        job.Paths,
		Extensions:   job.Extensions,
		SkipPatterns: job.SkipPatterns,
		Precision:    job.Precision,
		Throttle:     scan.DefaultThrottle,
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = config.DefaultExtensions
	}
	if len(cfg.SkipPatterns) == 0 {
		cfg.SkipPatterns = config.DefaultSkipPatterns
	}

	run, err := s.scanner.StartScan(ctx, cfg, &job.ID)
	if err != nil {
		slog.Error("scheduler: start scan for job", slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}

	now := time.Now()
	schedule, err := s.parser.Parse(job.CronExpression)
	if err != nil {
		slog.Error("scheduler: invalid cron expression", slog.Int64("job_id", job.ID), slog.Any("error", err))
		return
	}

	nextRun := schedule.Next(now)
	if err := s.db.UpdateJobLastRun(job.ID, now, nextRun); err != nil {
		slog.Error("scheduler: update job last run", slog.Int64("job_id", job.ID), slog.Any("error", err))
	}

	slog.Info("scheduler: started scan run",
		slog.Int64("run_id", run.ID),
		slog.Int64("job_id", job.ID),
		slog.Time("next_run", nextRun))
}

// UpdateNextRun updates the next run time for a job
func (s *Scheduler) UpdateNextRun(job *db.ScheduledJob) error {
	schedule, err := s.parser.Parse(job.CronExpression)
	if err != nil {
		return err
	}

	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun

	return s.db.UpdateScheduledJob(job)
}
