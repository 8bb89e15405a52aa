package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/application/apptest"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

type stubTrigger struct {
	mu      sync.Mutex
	results map[string]notification.TriggerResult
	tickets []string
	risks   []string
}

func (s *stubTrigger) result(id string) notification.TriggerResult {
	if r, ok := s.results[id]; ok {
		return r
	}
	return notification.Sent("n-" + notification.NotificationID(id))
}

func (s *stubTrigger) TriggerOnSLAWarning(_ context.Context, t ticket.Ticket) notification.TriggerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t.ID)
	return s.result(t.ID)
}

func (s *stubTrigger) NotifyRiskExpiring(_ context.Context, ra ticket.RiskAcceptance) notification.TriggerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risks = append(s.risks, ra.ID)
	return s.result(ra.ID)
}

func due(id string, at time.Time) ticket.Ticket {
	return ticket.Ticket{ID: id, TicketUID: "FT-" + id, Status: "in_progress", AssignedTo: "u-1", SLADueAt: &at}
}

func TestSLAWarningJob_WarnsTicketsInsideLookahead(t *testing.T) {
	now := time.Date(2025, 12, 26, 8, 0, 0, 0, timeutil.SAST)
	repo := apptest.NewTickets(
		due("soon", now.Add(30*time.Minute)),
		due("later", now.Add(90*time.Minute)),
		due("far", now.Add(5*time.Hour)),
		due("overdue", now.Add(-time.Minute)),
	)
	trigger := &stubTrigger{results: map[string]notification.TriggerResult{
		"later": notification.Skipped(notification.SkipDuplicate),
	}}

	job := NewSLAWarningJob(repo, trigger, SLAWarningConfig{Lookahead: 2 * time.Hour}, nil)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"soon", "later"}, trigger.tickets)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, "sla_warning_scan", job.Name())
}

func TestSLAWarningJob_ReportsFailures(t *testing.T) {
	now := time.Now()
	repo := apptest.NewTickets(due("a", now.Add(time.Minute)), due("b", now.Add(2*time.Minute)))
	trigger := &stubTrigger{results: map[string]notification.TriggerResult{
		"a": notification.Failed("", errors.New("gateway down")),
	}}

	job := NewSLAWarningJob(repo, trigger, DefaultSLAWarningConfig(), nil)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Len(t, trigger.tickets, 2)
}

func TestSLAWarningJob_ListError(t *testing.T) {
	repo := apptest.NewTickets()
	repo.Err = errors.New("db down")

	job := NewSLAWarningJob(repo, &stubTrigger{}, DefaultSLAWarningConfig(), nil)
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
	assert.Nil(t, job.LastRunStats())
}

func TestRiskExpiryJob_SelectsUntilEndOfNextDay(t *testing.T) {
	now := time.Date(2025, 12, 26, 8, 0, 0, 0, timeutil.SAST)
	repo := apptest.NewTickets()
	repo.Risks = []ticket.RiskAcceptance{
		{ID: "ra-today", TicketID: "t-1", ExpiryDate: now.Add(4 * time.Hour)},
		{ID: "ra-tomorrow-night", TicketID: "t-2", ExpiryDate: time.Date(2025, 12, 27, 23, 0, 0, 0, timeutil.SAST)},
		{ID: "ra-later", TicketID: "t-3", ExpiryDate: time.Date(2025, 12, 28, 0, 30, 0, 0, timeutil.SAST)},
	}
	trigger := &stubTrigger{}

	job := NewRiskExpiryJob(repo, trigger, RiskExpiryConfig{DaysAhead: 1, Location: timeutil.SAST}, nil)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"ra-today", "ra-tomorrow-night"}, trigger.risks)
	assert.Equal(t, 2, job.LastRunStats().Sent)
}
