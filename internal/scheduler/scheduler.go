package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowmap/internal/engine"
	"github.com/rendis/flowmap/internal/identity"
	"github.com/rendis/flowmap/internal/logging"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/pkg/schema"
)

// Run statuses recorded on a report job.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DefaultInterval is how often the loop looks for due jobs.
const DefaultInterval = 60 * time.Second

// SnapshotRunner records an analysis snapshot of one map.
// Satisfied by *workspace.Workspace.
type SnapshotRunner interface {
	Snapshot(ctx context.Context, mapID string) (*engine.Report, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval of the loop.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces the time source used to decide which jobs are due.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler polls the store for due report jobs and snapshots their maps.
type Scheduler struct {
	store    store.Store
	runner   SnapshotRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	retry    RetryPolicy

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler. Jobs use five-field cron expressions.
func NewScheduler(s store.Store, runner SnapshotRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		retry:    DefaultRetryPolicy,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Schedule creates an enabled report job for mapID. The first run is the
// next cron match after now.
func (s *Scheduler) Schedule(ctx context.Context, mapID, cronExpr, agentID string) (*store.ReportJob, error) {
	now := s.now()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"cron_expression": cronExpr})
	}
	if _, err := s.store.GetMap(ctx, mapID); err != nil {
		return nil, err
	}

	job := &store.ReportJob{
		ID:             uuid.New().String(),
		MapID:          mapID,
		CronExpression: cronExpr,
		AgentID:        agentID,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateReportJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.InfoContext(logging.WithIDs(ctx, mapID, "", agentID), "report job scheduled",
		slog.String("job_id", job.ID),
		slog.String("cron", cronExpr),
		slog.Time("next_run_at", next),
	)
	return job, nil
}

// SetEnabled pauses or resumes a job. Resuming moves next_run_at forward so
// the runs missed while paused are skipped.
func (s *Scheduler) SetEnabled(ctx context.Context, jobID string, enabled bool) error {
	update := store.ReportJobUpdate{Enabled: &enabled}
	if enabled {
		job, err := s.store.GetReportJob(ctx, jobID)
		if err != nil {
			return err
		}
		next, err := s.CalculateNextRun(job.CronExpression, s.now())
		if err != nil {
			return err
		}
		update.NextRunAt = &next
	}
	return s.store.UpdateReportJob(ctx, jobID, update)
}

// Unschedule deletes a job.
func (s *Scheduler) Unschedule(ctx context.Context, jobID string) error {
	return s.store.DeleteReportJob(ctx, jobID)
}

// Jobs lists report jobs matching filter.
func (s *Scheduler) Jobs(ctx context.Context, filter store.ReportJobFilter) ([]*store.ReportJob, error) {
	return s.store.ListReportJobs(ctx, filter)
}

// Start launches the background loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose next_run_at has passed.
func (s *Scheduler) tick(ctx context.Context) int {
	jobs, err := s.enabledJobs(ctx)
	if err != nil {
		s.logger.Error("failed to list report jobs", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	ran := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if s.runOnce(ctx, job, now) {
			ran++
		}
	}
	return ran
}

// RecoverMissed runs, once each, the jobs whose next_run_at passed while
// the scheduler was down. Call it before Start.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	jobs, err := s.enabledJobs(ctx)
	if err != nil {
		return fmt.Errorf("list missed report jobs: %w", err)
	}

	now := s.now()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if s.runOnce(ctx, job, now) {
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed report jobs", slog.Int("count", recovered))
	}
	return nil
}

func (s *Scheduler) enabledJobs(ctx context.Context) ([]*store.ReportJob, error) {
	enabled := true
	return s.store.ListReportJobs(ctx, store.ReportJobFilter{Enabled: &enabled})
}

// runOnce runs job unless another goroutine already is. It reports whether
// the job ran and its bookkeeping was stored.
func (s *Scheduler) runOnce(ctx context.Context, job *store.ReportJob, now time.Time) bool {
	if !s.tryAcquire(job.ID) {
		return false
	}
	defer s.releaseJob(job.ID)

	if err := s.runJob(ctx, job, now); err != nil {
		s.logger.Error("failed to run report job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// runJob snapshots the job's map and records the outcome. A map that no
// longer exists disables the job.
func (s *Scheduler) runJob(ctx context.Context, job *store.ReportJob, now time.Time) error {
	agentID := job.AgentID
	if agentID == "" {
		agentID = identity.SchedulerAgentID
	}
	ctx = logging.WithIDs(ctx, job.MapID, "", agentID)
	s.logger.InfoContext(ctx, "running report job", slog.String("job_id", job.ID))

	status := StatusSuccess
	report, err := s.snapshot(ctx, job)
	if err != nil {
		status = StatusError
		s.logger.ErrorContext(ctx, "report job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		if isNotFound(err) {
			return s.disable(ctx, job, now)
		}
	} else {
		s.logger.InfoContext(ctx, "report job finished",
			slog.String("job_id", job.ID),
			slog.Float64("critical_minutes", report.CriticalPath.TotalMinutes),
		)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

// snapshot runs the job's snapshot, retrying transient failures.
func (s *Scheduler) snapshot(ctx context.Context, job *store.ReportJob) (*engine.Report, error) {
	var lastErr error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if attempt > 0 {
			s.logger.WarnContext(ctx, "retrying report job",
				slog.String("job_id", job.ID),
				slog.Int("attempt", attempt+1),
				slog.String("error", lastErr.Error()),
			)
			if err := sleep(ctx, s.retry.backoff(attempt-1)); err != nil {
				return nil, lastErr
			}
		}
		report, err := s.runner.Snapshot(ctx, job.MapID)
		if err == nil {
			return report, nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ReportJob, now time.Time, status string) error {
	next, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}
	return s.store.UpdateReportJob(ctx, job.ID, store.ReportJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

func (s *Scheduler) disable(ctx context.Context, job *store.ReportJob, now time.Time) error {
	enabled := false
	s.logger.WarnContext(ctx, "disabling report job for missing map", slog.String("job_id", job.ID))
	return s.store.UpdateReportJob(ctx, job.ID, store.ReportJobUpdate{
		Enabled:       &enabled,
		LastRunAt:     &now,
		LastRunStatus: StatusError,
	})
}

func isNotFound(err error) bool {
	var fe *schema.FlowmapError
	return errors.As(err, &fe) && fe.Code == schema.ErrCodeNotFound
}

// tryAcquire marks jobID in flight, or returns false if it already is.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun returns the first time after from matching cronExpr.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
