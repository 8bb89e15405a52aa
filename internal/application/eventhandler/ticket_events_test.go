package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/application/apptest"
	"github.com/fibreflow/ticket-notify/internal/application/command"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

type fixture struct {
	svc   *TriggerService
	store *apptest.Store
	ch    *apptest.Channel
	dir   *apptest.Directory
	guard *apptest.Guard
}

func newFixture(cfg TriggerConfig) *fixture {
	f := &fixture{
		store: apptest.NewStore(),
		ch:    &apptest.Channel{},
		dir:   apptest.NewDirectory(),
		guard: apptest.NewGuard(),
	}
	f.dir.Users["u-1"] = ticket.Person{Name: "Thabo", Phone: "+27821234567"}
	f.dir.Users["u-nophone"] = ticket.Person{Name: "Sipho"}
	f.dir.Users["u-noname"] = ticket.Person{Phone: "+27820000002"}
	f.dir.Contractors["c-1"] = ticket.Person{Name: "ABC Contractors", Phone: "+27829999999"}

	sender := command.NewSendNotificationHandler(f.store, f.ch, nil, nil)
	f.svc = NewTriggerService(f.dir, f.store, f.guard, sender, cfg, nil)
	return f
}

func assignedTicket() ticket.Ticket {
	return ticket.Ticket{
		ID:         "t-1",
		TicketUID:  "FT406824",
		Title:      "Fibre cut on Main Rd",
		Status:     "assigned",
		AssignedTo: "u-1",
	}
}

func TestProcessEvent_AssignedSends(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	r := f.svc.TriggerOnTicketAssignment(context.Background(), assignedTicket(), "open")
	require.True(t, r.Success, r.Error())
	assert.True(t, r.NotificationSent)
	assert.NotEmpty(t, r.NotificationID)

	calls := f.ch.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+27821234567", calls[0].Phone)
	assert.Contains(t, calls[0].Body, "Thabo")
	assert.Contains(t, calls[0].Body, "FT406824")
	assert.Contains(t, calls[0].Body, "DR Number: N/A")
	assert.Contains(t, calls[0].Body, "Fibre cut on Main Rd")
	assert.NotContains(t, calls[0].Body, "{{")

	stored := f.store.All()
	require.Len(t, stored, 1)
	assert.Equal(t, notification.RecipientTechnician, stored[0].RecipientType)
	assert.Equal(t, "ticket_assigned", stored[0].TemplateID)
}

func TestProcessEvent_DuplicateWithinWindowSendsOnce(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	first := f.svc.TriggerOnTicketAssignment(context.Background(), assignedTicket(), "open")
	second := f.svc.TriggerOnTicketAssignment(context.Background(), assignedTicket(), "open")

	assert.True(t, first.NotificationSent)
	assert.True(t, second.Success)
	assert.False(t, second.NotificationSent)
	assert.Equal(t, notification.SkipDuplicate, second.SkippedReason)
	assert.Len(t, f.ch.Calls(), 1)
}

func TestProcessEvent_ConcurrentDuplicatesSendOnce(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.TriggerOnTicketAssignment(context.Background(), assignedTicket(), "open")
		}()
	}
	wg.Wait()

	assert.Len(t, f.ch.Calls(), 1)
}

func TestProcessEvent_OutsideWindowSendsAgain(t *testing.T) {
	f := newFixture(TriggerConfig{DedupWindow: time.Minute})
	f.svc.guard = nil

	now := time.Now()
	f.store.Now = func() time.Time { return now.Add(-2 * time.Minute) }
	first := f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "qa_approved")
	f.store.Now = func() time.Time { return now }
	second := f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "qa_approved")

	assert.True(t, first.NotificationSent)
	assert.True(t, second.NotificationSent)
}

func TestProcessEvent_TemplateWindowOverride(t *testing.T) {
	f := newFixture(TriggerConfig{
		DedupWindow:     time.Minute,
		TemplateWindows: map[notification.TemplateID]time.Duration{notification.TemplateSLAWarning: 2 * time.Hour},
	})
	f.svc.guard = nil

	now := time.Now()
	f.store.Now = func() time.Time { return now.Add(-time.Hour) }
	first := f.svc.TriggerOnSLAWarning(context.Background(), assignedTicket())
	f.store.Now = func() time.Time { return now }
	second := f.svc.TriggerOnSLAWarning(context.Background(), assignedTicket())

	assert.True(t, first.NotificationSent)
	assert.Equal(t, notification.SkipDuplicate, second.SkippedReason)
}

func TestProcessEvent_NoPhoneNeverCallsGateway(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	tk := assignedTicket()
	tk.AssignedTo = "u-nophone"
	r := f.svc.TriggerOnQARejection(context.Background(), tk, "")

	assert.True(t, r.Success)
	assert.False(t, r.NotificationSent)
	assert.Equal(t, notification.SkipNoPhone, r.SkippedReason)
	assert.Empty(t, f.ch.Calls())
	assert.Empty(t, f.store.All())
}

func TestProcessEvent_ContractorOnlyForAssignment(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	tk := assignedTicket()
	tk.AssignedTo = ""
	tk.AssignedContractorID = "c-1"

	r := f.svc.TriggerOnTicketAssignment(context.Background(), tk, "open")
	require.True(t, r.NotificationSent, r.Error())
	assert.Equal(t, notification.RecipientContractor, f.store.All()[0].RecipientType)

	r = f.svc.TriggerOnTicketClosure(context.Background(), tk, "qa_approved")
	assert.Equal(t, notification.SkipAssigneeNotFound, r.SkippedReason)
}

func TestProcessEvent_SkipReasons(t *testing.T) {
	prefs := notification.DefaultPreferences()
	prefs[shared.EventTicketClosed] = false
	f := newFixture(TriggerConfig{Preferences: prefs})

	r := f.svc.ProcessEvent(context.Background(), notification.NewTicketEvent("ticket.reopened", assignedTicket()))
	assert.True(t, r.Success)
	assert.Equal(t, notification.SkipUnsupportedEvent, r.SkippedReason)

	r = f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "qa_approved")
	assert.True(t, r.Success)
	assert.Equal(t, notification.SkipDisabled, r.SkippedReason)

	assert.Empty(t, f.ch.Calls())
}

func TestProcessEvent_LookupErrorFails(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())
	f.dir.Err = errors.New("connection refused")

	r := f.svc.TriggerOnSLAWarning(context.Background(), assignedTicket())
	assert.False(t, r.Success)
	assert.Contains(t, r.Error(), "connection refused")
}

func TestProcessEvent_DedupCheckErrorFails(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())
	f.store.FindRecentErr = errors.New("timeout")

	r := f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "")
	assert.False(t, r.Success)
	assert.Empty(t, f.ch.Calls())
}

func TestProcessEvent_GuardErrorFallsBackToStore(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())
	f.guard.Err = errors.New("redis down")

	r := f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "")
	assert.True(t, r.NotificationSent)
}

func TestProcessEvent_TemplateFailureReleasesClaim(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	tk := assignedTicket()
	tk.AssignedTo = "u-noname"
	r := f.svc.TriggerOnTicketAssignment(context.Background(), tk, "open")
	assert.False(t, r.Success)
	assert.True(t, shared.IsTemplateError(r.Err))
	assert.Equal(t, 1, f.guard.Released)
	assert.Empty(t, f.store.All())
}

func TestProcessEvent_UntitledTicketUsesPlaceholder(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	tk := assignedTicket()
	tk.Title = ""
	r := f.svc.TriggerOnTicketAssignment(context.Background(), tk, "open")
	require.True(t, r.Success, r.Error())
	assert.True(t, r.NotificationSent)

	calls := f.ch.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Body, "Title: N/A")
	assert.NotContains(t, calls[0].Body, "{{")
}

func TestProcessEvent_GatewayFailureKeepsRow(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())
	f.ch.Errs = []error{errors.New("HTTP 401 error")}

	r := f.svc.TriggerOnTicketClosure(context.Background(), assignedTicket(), "")
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.NotificationID)
	assert.Equal(t, 0, f.guard.Released)

	stored := f.store.All()
	require.Len(t, stored, 1)
	assert.Equal(t, notification.StatusFailed, stored[0].Status)
}

func TestHandleBatchEvents_SecondAssigneeMissing(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	missing := assignedTicket()
	missing.ID = "t-2"
	missing.AssignedTo = "u-unknown"

	results := f.svc.HandleBatchEvents(context.Background(), []notification.TicketEvent{
		notification.NewTicketEvent(shared.EventTicketAssigned, assignedTicket()),
		notification.NewTicketEvent(shared.EventTicketAssigned, missing),
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].NotificationSent)
	assert.True(t, results[1].Success)
	assert.False(t, results[1].NotificationSent)
	assert.Equal(t, notification.SkipAssigneeNotFound, results[1].SkippedReason)
}

func TestHandleTicketEvent_ReturnsPipelineErrors(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	require.NoError(t, f.svc.HandleTicketEvent(context.Background(),
		notification.NewTicketEvent("ticket.reopened", assignedTicket())))

	f.dir.Err = errors.New("connection refused")
	assert.Error(t, f.svc.HandleTicketEvent(context.Background(),
		notification.NewTicketEvent(shared.EventTicketClosed, assignedTicket())))
}

func TestNotifyRiskExpiring(t *testing.T) {
	f := newFixture(DefaultTriggerConfig())

	ra := ticket.RiskAcceptance{
		ID:              "ra-1",
		TicketID:        "t-1",
		TicketUID:       "FT406824",
		AssignedTo:      "u-1",
		RiskDescription: "Minor cable bend",
		ExpiryDate:      time.Date(2025, 12, 30, 8, 0, 0, 0, timeutil.SAST),
	}

	r := f.svc.NotifyRiskExpiring(context.Background(), ra)
	require.True(t, r.NotificationSent, r.Error())
	assert.Contains(t, f.ch.Calls()[0].Body, "2025-12-30")
	assert.Contains(t, f.ch.Calls()[0].Body, "Minor cable bend")

	r = f.svc.NotifyRiskExpiring(context.Background(), ra)
	assert.Equal(t, notification.SkipDuplicate, r.SkippedReason)
}

func TestBuildVariables(t *testing.T) {
	person := &ticket.Person{Name: "Thabo"}
	due := time.Date(2025, 12, 27, 13, 0, 0, 0, time.UTC)

	tk := assignedTicket()
	tk.DRNumber = "DR12345"
	vars := buildVariables(notification.NewTicketEvent(shared.EventTicketAssigned, tk), person, timeutil.SAST)
	assert.Equal(t, map[string]string{
		"ticket_uid":    "FT406824",
		"assignee_name": "Thabo",
		"dr_number":     "DR12345",
		"ticket_title":  "Fibre cut on Main Rd",
	}, vars)

	ev := notification.NewTicketEvent(shared.EventTicketQARejected, tk)
	assert.Equal(t, DefaultRejectionReason, buildVariables(ev, person, timeutil.SAST)["rejection_reason"])
	ev.Metadata[notification.MetaRejectionReason] = "Missing photos"
	assert.Equal(t, "Missing photos", buildVariables(ev, person, timeutil.SAST)["rejection_reason"])

	ev = notification.NewTicketEvent(shared.EventTicketSLAWarning, tk)
	assert.Equal(t, timeutil.NotSet, buildVariables(ev, person, timeutil.SAST)["sla_due_time"])
	tk.SLADueAt = &due
	ev = notification.NewTicketEvent(shared.EventTicketSLAWarning, tk)
	assert.Equal(t, "2025-12-27 15:00", buildVariables(ev, person, timeutil.SAST)["sla_due_time"])

	closed := buildVariables(notification.NewTicketEvent(shared.EventTicketClosed, tk), person, timeutil.SAST)
	assert.Len(t, closed, 2)
}
