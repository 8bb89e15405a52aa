// Package eventhandler turns ticket lifecycle events into WhatsApp notifications.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fibreflow/ticket-notify/internal/application/command"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// TRIGGER SERVICE
// Decides whether a ticket event produces a notification and sends it:
// preferences, recipient lookup, duplicate suppression, variables, send.
// ═══════════════════════════════════════════════════════════════════════════

// Default variable values for optional ticket fields.
const (
	DefaultDRNumber        = "N/A"
	DefaultTicketTitle     = "N/A"
	DefaultRejectionReason = "Please review QA feedback"
)

// TriggerConfig configures the trigger service.
type TriggerConfig struct {
	Preferences notification.Preferences

	// DedupWindow is how far back an identical notification suppresses a new one.
	DedupWindow time.Duration

	// TemplateWindows overrides DedupWindow per template. Scheduled reminders
	// use it so that each scan does not repeat the previous one.
	TemplateWindows map[notification.TemplateID]time.Duration

	// Location is the zone used for times shown in messages.
	Location *time.Location
}

// DefaultTriggerConfig returns the configuration with every event enabled.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Preferences: notification.DefaultPreferences(),
		DedupWindow: notification.DefaultDedupWindow,
		Location:    timeutil.SAST,
	}
}

// TriggerService processes ticket events.
type TriggerService struct {
	directory     ticket.Directory
	notifications notification.Repository
	guard         notification.DedupGuard
	sender        *command.SendNotificationHandler
	config        TriggerConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewTriggerService creates a TriggerService. guard may be nil, in which case
// duplicates are only suppressed by the stored notifications.
func NewTriggerService(
	directory ticket.Directory,
	notifications notification.Repository,
	guard notification.DedupGuard,
	sender *command.SendNotificationHandler,
	config TriggerConfig,
	logger *slog.Logger,
) *TriggerService {
	if config.Preferences == nil {
		config.Preferences = notification.DefaultPreferences()
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = notification.DefaultDedupWindow
	}
	if config.Location == nil {
		config.Location = timeutil.SAST
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TriggerService{
		directory:     directory,
		notifications: notifications,
		guard:         guard,
		sender:        sender,
		config:        config,
		logger:        logger.With("component", "trigger_service"),
		now:           time.Now,
	}
}

// ProcessEvent runs one event through the pipeline. It never returns an
// error: failures are reported as a result with Success false.
func (s *TriggerService) ProcessEvent(ctx context.Context, ev notification.TicketEvent) notification.TriggerResult {
	log := s.logger.With("event_type", ev.Type, "ticket_id", ev.Ticket.ID)

	templateID, ok := notification.TemplateForEvent(ev.Type)
	if !ok {
		log.Warn("unsupported event type")
		return notification.Skipped(notification.SkipUnsupportedEvent)
	}

	if !s.config.Preferences.Enabled(ev.Type) {
		log.Debug("event disabled by preferences")
		return notification.Skipped(notification.SkipDisabled)
	}

	person, err := ticket.ResolveAssignee(ctx, s.directory, ev.Ticket, ev.Type == shared.EventTicketAssigned)
	if err != nil {
		if shared.IsNotFound(err) {
			log.Warn("could not determine recipient")
			return notification.Skipped(notification.SkipAssigneeNotFound)
		}
		log.Error("recipient lookup failed", "error", err)
		return notification.Failed("", fmt.Errorf("resolve recipient: %w", err))
	}
	if !person.HasPhone() {
		log.Warn("recipient has no phone number", "recipient_id", person.ID)
		return notification.Skipped(notification.SkipNoPhone)
	}

	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = ev.ID
	}
	vars := buildVariables(ev, person, s.config.Location)
	return s.send(ctx, log, ev.Ticket.ID, correlationID, templateID, person, vars)
}

// NotifyRiskExpiring reminds the ticket's technician that a QA risk
// acceptance is about to expire. It shares the recipient and duplicate
// checks of ProcessEvent.
func (s *TriggerService) NotifyRiskExpiring(ctx context.Context, ra ticket.RiskAcceptance) notification.TriggerResult {
	log := s.logger.With("template_id", notification.TemplateRiskExpiring, "ticket_id", ra.TicketID)

	t := ticket.Ticket{ID: ra.TicketID, TicketUID: ra.TicketUID, AssignedTo: ra.AssignedTo}
	person, err := ticket.ResolveAssignee(ctx, s.directory, t, false)
	if err != nil {
		if shared.IsNotFound(err) {
			return notification.Skipped(notification.SkipAssigneeNotFound)
		}
		return notification.Failed("", fmt.Errorf("resolve recipient: %w", err))
	}
	if !person.HasPhone() {
		return notification.Skipped(notification.SkipNoPhone)
	}

	vars := map[string]string{
		"ticket_uid":       ra.TicketUID,
		"assignee_name":    person.Name,
		"expiry_date":      timeutil.FormatDay(ra.ExpiryDate, s.config.Location),
		"risk_description": ra.RiskDescription,
	}
	return s.send(ctx, log, ra.TicketID, ra.ID, notification.TemplateRiskExpiring, person, vars)
}

// send applies duplicate suppression and sends the rendered template.
func (s *TriggerService) send(
	ctx context.Context,
	log *slog.Logger,
	ticketID, correlationID string,
	templateID notification.TemplateID,
	person *ticket.Person,
	vars map[string]string,
) notification.TriggerResult {
	window := s.windowFor(templateID)
	since := s.now().Add(-window)
	if _, found, err := s.notifications.FindRecent(ctx, ticketID, templateID.String(), since); err != nil {
		log.Error("duplicate check failed", "error", err)
		return notification.Failed("", fmt.Errorf("duplicate check: %w", err))
	} else if found {
		log.Debug("skipping duplicate notification")
		return notification.Skipped(notification.SkipDuplicate)
	}

	claimed := false
	if s.guard != nil {
		ok, err := s.guard.Claim(ctx, ticketID, templateID.String(), window)
		switch {
		case err != nil:
			log.Warn("dedup guard unavailable, relying on stored notifications", "error", err)
		case !ok:
			log.Debug("skipping duplicate notification claimed elsewhere")
			return notification.Skipped(notification.SkipDuplicate)
		default:
			claimed = true
		}
	}

	res, err := s.sender.Handle(ctx, command.SendNotificationCommand{
		TicketID:       ticketID,
		RecipientType:  recipientTypeFor(person.Kind),
		RecipientPhone: person.Phone,
		RecipientName:  person.Name,
		TemplateID:     templateID,
		Variables:      vars,
		CorrelationID:  correlationID,
	})
	if err != nil {
		var id notification.NotificationID
		if res != nil && res.Notification != nil {
			id = res.Notification.ID
		} else if claimed {
			// Nothing was recorded, so the next event must be free to try again.
			if rerr := s.guard.Release(ctx, ticketID, templateID.String()); rerr != nil {
				log.Warn("failed to release dedup claim", "error", rerr)
			}
		}
		log.Error("failed to process notification event", "notification_id", id, "error", err)
		return notification.Failed(id, err)
	}

	log.Info("notification sent", "notification_id", res.Notification.ID)
	return notification.Sent(res.Notification.ID)
}

func (s *TriggerService) windowFor(id notification.TemplateID) time.Duration {
	if w, ok := s.config.TemplateWindows[id]; ok && w > 0 {
		return w
	}
	return s.config.DedupWindow
}

// HandleBatchEvents processes events one after another. A failure in one
// event never stops the rest.
func (s *TriggerService) HandleBatchEvents(ctx context.Context, events []notification.TicketEvent) []notification.TriggerResult {
	results := make([]notification.TriggerResult, 0, len(events))

	var sent, skipped, failed int
	for _, ev := range events {
		r := s.ProcessEvent(ctx, ev)
		switch {
		case r.NotificationSent:
			sent++
		case r.Success:
			skipped++
		default:
			failed++
		}
		results = append(results, r)
	}

	s.logger.Info("batch processing complete",
		"total", len(events),
		"sent", sent,
		"skipped", skipped,
		"failed", failed,
	)

	return results
}

// HandleTicketEvent adapts ProcessEvent to the broker consumer. Skips are
// successes; pipeline failures are returned so the delivery can be retried.
func (s *TriggerService) HandleTicketEvent(ctx context.Context, ev notification.TicketEvent) error {
	r := s.ProcessEvent(ctx, ev)
	if !r.Success {
		return r.Err
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// CONVENIENCE TRIGGERS
// ═══════════════════════════════════════════════════════════════════════════

// TriggerOnTicketAssignment notifies the new assignee of a ticket.
func (s *TriggerService) TriggerOnTicketAssignment(ctx context.Context, t ticket.Ticket, previousStatus string) notification.TriggerResult {
	ev := notification.NewTicketEvent(shared.EventTicketAssigned, t)
	ev.PreviousStatus = previousStatus
	ev.NewStatus = t.Status
	return s.ProcessEvent(ctx, ev)
}

// TriggerOnQARejection notifies the technician that QA rejected the ticket.
func (s *TriggerService) TriggerOnQARejection(ctx context.Context, t ticket.Ticket, reason string) notification.TriggerResult {
	ev := notification.NewTicketEvent(shared.EventTicketQARejected, t)
	if reason != "" {
		ev.Metadata[notification.MetaRejectionReason] = reason
	}
	return s.ProcessEvent(ctx, ev)
}

// TriggerOnTicketClosure notifies the technician that the ticket was closed.
func (s *TriggerService) TriggerOnTicketClosure(ctx context.Context, t ticket.Ticket, previousStatus string) notification.TriggerResult {
	ev := notification.NewTicketEvent(shared.EventTicketClosed, t)
	ev.PreviousStatus = previousStatus
	ev.NewStatus = t.Status
	return s.ProcessEvent(ctx, ev)
}

// TriggerOnSLAWarning warns the technician that the SLA deadline is near.
func (s *TriggerService) TriggerOnSLAWarning(ctx context.Context, t ticket.Ticket) notification.TriggerResult {
	return s.ProcessEvent(ctx, notification.NewTicketEvent(shared.EventTicketSLAWarning, t))
}

// ═══════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════

// buildVariables returns the template variables for a supported event.
func buildVariables(ev notification.TicketEvent, person *ticket.Person, loc *time.Location) map[string]string {
	t := ev.Ticket
	vars := map[string]string{
		"ticket_uid":    t.TicketUID,
		"assignee_name": person.Name,
	}

	switch ev.Type {
	case shared.EventTicketAssigned:
		vars["dr_number"] = orDefault(t.DRNumber, DefaultDRNumber)
		vars["ticket_title"] = orDefault(t.Title, DefaultTicketTitle)
	case shared.EventTicketQARejected:
		vars["rejection_reason"] = orDefault(ev.Meta(notification.MetaRejectionReason), DefaultRejectionReason)
	case shared.EventTicketSLAWarning:
		vars["sla_due_time"] = timeutil.FormatDue(t.SLADueAt, loc)
	}

	return vars
}

func recipientTypeFor(kind ticket.Kind) notification.RecipientType {
	if kind == ticket.KindContractor {
		return notification.RecipientContractor
	}
	return notification.RecipientTechnician
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
