// Package scheduler runs periodic background jobs such as SLA deadline scans
// and risk acceptance reminders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Manual      bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	logger         *slog.Logger
	timezone       *time.Location
	tick           time.Duration
	maxHistorySize int
	now            func() time.Time

	jobs      map[string]*scheduledJob
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	lastRuns   map[string]*JobResult
	runHistory []JobResult
}

// scheduledJob wraps a Job with scheduling information.
type scheduledJob struct {
	job       Job
	schedule  Schedule
	inFlight  bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// SchedulerConfig contains configuration for the Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone for schedule calculations.
	Timezone *time.Location

	// TickInterval is how often due jobs are checked (default: 1s).
	TickInterval time.Duration

	// MaxHistorySize is the maximum number of job results to keep in history.
	MaxHistorySize int
}

// NewScheduler creates a new Scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 200
	}

	return &Scheduler{
		logger:         config.Logger.With("component", "scheduler"),
		timezone:       config.Timezone,
		tick:           config.TickInterval,
		maxHistorySize: config.MaxHistorySize,
		now:            time.Now,
		jobs:           make(map[string]*scheduledJob),
		ctx:            context.Background(),
		lastRuns:       make(map[string]*JobResult),
	}
}

// Register adds a job to the scheduler with the given schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(s.now().In(s.timezone)),
	}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", sj.nextRun.Format(time.RFC3339),
	)

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = s.now()
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs_count", count)

	s.wg.Add(1)
	go s.runLoop()

	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped", "uptime", time.Since(s.startedAt).String())
	return nil
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunJobs()
		}
	}
}

// checkAndRunJobs starts every due job that is not already running.
// A job never overlaps with itself.
func (s *Scheduler) checkAndRunJobs() {
	now := s.now().In(s.timezone)

	s.mu.Lock()
	ctx := s.ctx
	due := make([]*scheduledJob, 0)
	for _, sj := range s.jobs {
		if sj.inFlight || sj.nextRun.IsZero() || now.Before(sj.nextRun) {
			continue
		}
		sj.inFlight = true
		sj.lastRun = now
		sj.nextRun = sj.schedule.Next(now)
		sj.runCount++
		due = append(due, sj)
	}
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj, false)
		}(sj)
	}
}

// execute runs a job and records the result.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) *JobResult {
	name := sj.job.Name()
	startedAt := s.now()
	s.logger.Info("job started", "job", name, "manual", manual)

	err := sj.job.Run(ctx)
	completedAt := s.now()

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Manual:      manual,
		Error:       err,
	}

	s.mu.Lock()
	if !manual {
		sj.inFlight = false
	}
	if err != nil {
		sj.failCount++
	}
	s.lastRuns[name] = &result
	s.runHistory = append(s.runHistory, result)
	if len(s.runHistory) > s.maxHistorySize {
		s.runHistory = s.runHistory[len(s.runHistory)-s.maxHistorySize:]
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", result.Duration.String())
	}

	return &result
}

// RunNow immediately executes a job by name, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (*JobResult, error) {
	s.mu.RLock()
	sj, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	result := s.execute(ctx, sj, true)
	return result, result.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo contains information about a registered job.
type JobInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	LastRun     time.Time  `json:"last_run"`
	NextRun     time.Time  `json:"next_run"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
	LastResult  *JobResult `json:"-"`
}

// ListJobs returns information about all registered jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: sj.job.Description(),
			Schedule:    sj.schedule.String(),
			LastRun:     sj.lastRun,
			NextRun:     sj.nextRun,
			RunCount:    sj.runCount,
			FailCount:   sj.failCount,
			LastResult:  s.lastRuns[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// GetHistory returns up to limit of the most recent job results.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runHistory) {
		limit = len(s.runHistory)
	}

	result := make([]JobResult, limit)
	copy(result, s.runHistory[len(s.runHistory)-limit:])
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)
