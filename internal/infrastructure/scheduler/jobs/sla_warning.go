package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

// ══════════════════════════════════════════════════════════════════════════════
// SLA WARNING SCAN JOB
// ══════════════════════════════════════════════════════════════════════════════

// SLAWarner sends the SLA warning for one ticket.
type SLAWarner interface {
	TriggerOnSLAWarning(ctx context.Context, t ticket.Ticket) notification.TriggerResult
}

// SLAWarningConfig contains configuration for the SLA scan.
type SLAWarningConfig struct {
	// Lookahead is how far ahead of now a deadline must fall to be warned about.
	Lookahead time.Duration

	// Timeout is the maximum duration of one scan.
	Timeout time.Duration
}

// DefaultSLAWarningConfig returns sensible defaults.
func DefaultSLAWarningConfig() SLAWarningConfig {
	return SLAWarningConfig{
		Lookahead: 2 * time.Hour,
		Timeout:   5 * time.Minute,
	}
}

// SLAWarningJob warns technicians whose tickets are close to their SLA
// deadline. Repeats across scans are suppressed by the trigger's dedup window.
type SLAWarningJob struct {
	lastStats

	tickets ticket.Repository
	warner  SLAWarner
	config  SLAWarningConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSLAWarningJob creates the SLA warning scan job.
func NewSLAWarningJob(tickets ticket.Repository, warner SLAWarner, config SLAWarningConfig, logger *slog.Logger) *SLAWarningJob {
	if config.Lookahead <= 0 {
		config.Lookahead = DefaultSLAWarningConfig().Lookahead
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SLAWarningJob{
		tickets: tickets,
		warner:  warner,
		config:  config,
		logger:  logger.With("job", "sla_warning_scan"),
		now:     time.Now,
	}
}

// Name returns the job name.
func (j *SLAWarningJob) Name() string {
	return "sla_warning_scan"
}

// Description returns a human-readable description.
func (j *SLAWarningJob) Description() string {
	return fmt.Sprintf("Warns assignees of tickets whose SLA is due within %s", j.config.Lookahead)
}

// Run executes the scan.
func (j *SLAWarningJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := j.now()
	stats := &RunStats{StartedAt: now}

	due, err := j.tickets.ListSLADueBetween(ctx, now, now.Add(j.config.Lookahead))
	if err != nil {
		return fmt.Errorf("list sla due tickets: %w", err)
	}
	stats.Scanned = len(due)

	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		r := j.warner.TriggerOnSLAWarning(ctx, *t)
		stats.record(r)
		if !r.Success {
			j.logger.Warn("sla warning failed", "ticket_id", t.ID, "error", r.Err)
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	j.v.Store(stats)

	j.logger.Info("sla warning scan completed",
		"scanned", stats.Scanned,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sla_warning_scan: %w", err)
	}
	return stats.err(j.Name())
}
