package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RISK EXPIRY REMINDER JOB
// ══════════════════════════════════════════════════════════════════════════════

// RiskNotifier sends the reminder for one risk acceptance.
type RiskNotifier interface {
	NotifyRiskExpiring(ctx context.Context, ra ticket.RiskAcceptance) notification.TriggerResult
}

// RiskExpiryConfig contains configuration for the reminder job.
type RiskExpiryConfig struct {
	// DaysAhead selects acceptances expiring by the end of today plus this many days.
	DaysAhead int

	// Location defines where "end of day" is.
	Location *time.Location

	Timeout time.Duration
}

// DefaultRiskExpiryConfig returns sensible defaults.
func DefaultRiskExpiryConfig() RiskExpiryConfig {
	return RiskExpiryConfig{
		DaysAhead: 1,
		Location:  timeutil.SAST,
		Timeout:   5 * time.Minute,
	}
}

// RiskExpiryJob reminds technicians about QA risk acceptances that are
// about to expire.
type RiskExpiryJob struct {
	lastStats

	risks    ticket.RiskRepository
	notifier RiskNotifier
	config   RiskExpiryConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRiskExpiryJob creates the risk expiry reminder job.
func NewRiskExpiryJob(risks ticket.RiskRepository, notifier RiskNotifier, config RiskExpiryConfig, logger *slog.Logger) *RiskExpiryJob {
	if config.DaysAhead < 0 {
		config.DaysAhead = 0
	}
	if config.Location == nil {
		config.Location = timeutil.SAST
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskExpiryJob{
		risks:    risks,
		notifier: notifier,
		config:   config,
		logger:   logger.With("job", "risk_expiry_reminder"),
		now:      time.Now,
	}
}

// Name returns the job name.
func (j *RiskExpiryJob) Name() string {
	return "risk_expiry_reminder"
}

// Description returns a human-readable description.
func (j *RiskExpiryJob) Description() string {
	return fmt.Sprintf("Reminds technicians of risk acceptances expiring within %d day(s)", j.config.DaysAhead)
}

// Run executes the reminder job.
func (j *RiskExpiryJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := j.now()
	stats := &RunStats{StartedAt: now}
	until := timeutil.EndOfDay(now.AddDate(0, 0, j.config.DaysAhead), j.config.Location)

	expiring, err := j.risks.ListExpiring(ctx, until)
	if err != nil {
		return fmt.Errorf("list expiring risk acceptances: %w", err)
	}
	stats.Scanned = len(expiring)

	for _, ra := range expiring {
		if ctx.Err() != nil {
			break
		}
		r := j.notifier.NotifyRiskExpiring(ctx, *ra)
		stats.record(r)
		if !r.Success {
			j.logger.Warn("risk reminder failed", "risk_acceptance_id", ra.ID, "ticket_id", ra.TicketID, "error", r.Err)
		}
	}

	stats.Duration = time.Since(stats.StartedAt)
	j.v.Store(stats)

	j.logger.Info("risk expiry reminders completed",
		"until", until.Format(time.RFC3339),
		"scanned", stats.Scanned,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("risk_expiry_reminder: %w", err)
	}
	return stats.err(j.Name())
}
