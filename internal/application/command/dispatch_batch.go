package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH BATCH COMMAND
// Sends one template to the assignees of many tickets. Items are independent:
// a failed item never stops or cancels the others.
// ══════════════════════════════════════════════════════════════════════════════

// Variable keys the batch dispatcher reads to find the recipient.
const (
	VarRecipientPhone = "recipient_phone"
	VarPhone          = "phone"
	VarRecipientName  = "recipient_name"
)

// DefaultBatchConcurrency bounds concurrent sends in a batch.
const DefaultBatchConcurrency = 5

// DispatchBatchCommand contains the data for a batch send.
type DispatchBatchCommand struct {
	TemplateID    notification.TemplateID
	TicketIDs     []string
	RecipientType notification.RecipientType

	// VariablesPerTicket maps a ticket id to its template variables. A
	// "recipient_phone" or "phone" entry overrides the assignee lookup.
	VariablesPerTicket map[string]map[string]string

	CorrelationID string
}

// Validate validates the command.
func (c DispatchBatchCommand) Validate() error {
	if c.TemplateID == "" {
		return shared.NewDomainError("notification", "Batch", shared.ErrValidation, "template_id is required")
	}
	if !notification.HasTemplate(c.TemplateID) {
		return shared.WrapError("template", "Find", shared.ErrNotFound,
			fmt.Sprintf("template %q not found", c.TemplateID), shared.ErrTemplateNotFound)
	}
	if len(c.TicketIDs) == 0 {
		return shared.NewDomainError("notification", "Batch", shared.ErrValidation, "ticket_ids must not be empty")
	}
	if !c.RecipientType.IsValid() {
		return shared.ErrInvalidRecipientType
	}
	return nil
}

// BatchItemError describes a ticket whose notification was not sent.
type BatchItemError struct {
	TicketID string `json:"ticket_id"`
	Error    string `json:"error"`
}

// DispatchBatchResult contains results for a batch send.
type DispatchBatchResult struct {
	Total           int                           `json:"total"`
	Sent            int                           `json:"sent"`
	Failed          int                           `json:"failed"`
	NotificationIDs []notification.NotificationID `json:"notification_ids"`
	Errors          []BatchItemError              `json:"errors"`
	Duration        time.Duration                 `json:"-"`
}

// DispatchBatchHandler handles the DispatchBatchCommand.
type DispatchBatchHandler struct {
	sender      *SendNotificationHandler
	tickets     ticket.Repository
	directory   ticket.Directory
	concurrency int
	logger      *slog.Logger
}

// NewDispatchBatchHandler creates a new batch handler. A concurrency of 0
// means DefaultBatchConcurrency.
func NewDispatchBatchHandler(
	sender *SendNotificationHandler,
	tickets ticket.Repository,
	directory ticket.Directory,
	concurrency int,
	logger *slog.Logger,
) *DispatchBatchHandler {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchBatchHandler{
		sender:      sender,
		tickets:     tickets,
		directory:   directory,
		concurrency: concurrency,
		logger:      logger.With("component", "dispatch_batch"),
	}
}

// batchItem is the outcome of one ticket in a batch.
type batchItem struct {
	id  notification.NotificationID
	err error
}

// Handle executes the batch command. The returned error is only set when the
// command itself is invalid; per-item failures are reported in the result.
func (h *DispatchBatchHandler) Handle(ctx context.Context, cmd DispatchBatchCommand) (*DispatchBatchResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch_batch: %w", err)
	}

	start := time.Now()
	items := make([]batchItem, len(cmd.TicketIDs))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, ticketID := range cmd.TicketIDs {
		g.Go(func() error {
			id, err := h.dispatchOne(ctx, cmd, ticketID)
			items[i] = batchItem{id: id, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &DispatchBatchResult{
		Total:           len(cmd.TicketIDs),
		NotificationIDs: make([]notification.NotificationID, 0, len(items)),
		Errors:          make([]BatchItemError, 0),
	}
	for i, item := range items {
		if item.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{TicketID: cmd.TicketIDs[i], Error: item.err.Error()})
			continue
		}
		result.Sent++
		result.NotificationIDs = append(result.NotificationIDs, item.id)
	}
	result.Duration = time.Since(start)

	h.logger.Info("batch dispatched",
		"template_id", cmd.TemplateID,
		"total", result.Total,
		"sent", result.Sent,
		"failed", result.Failed,
		"duration", result.Duration,
	)

	return result, nil
}

// dispatchOne sends the template for a single ticket.
func (h *DispatchBatchHandler) dispatchOne(ctx context.Context, cmd DispatchBatchCommand, ticketID string) (notification.NotificationID, error) {
	vars := make(map[string]string)
	for k, v := range cmd.VariablesPerTicket[ticketID] {
		vars[k] = v
	}

	phone := vars[VarRecipientPhone]
	if phone == "" {
		phone = vars[VarPhone]
	}
	name := vars[VarRecipientName]

	if phone == "" {
		person, err := h.lookupRecipient(ctx, ticketID, cmd.RecipientType, vars)
		if err != nil {
			return "", err
		}
		phone = person.Phone
		if name == "" {
			name = person.Name
		}
	}

	res, err := h.sender.Handle(ctx, SendNotificationCommand{
		TicketID:       ticketID,
		RecipientType:  cmd.RecipientType,
		RecipientPhone: phone,
		RecipientName:  name,
		TemplateID:     cmd.TemplateID,
		Variables:      vars,
		CorrelationID:  cmd.CorrelationID,
	})
	if err != nil {
		return "", err
	}
	return res.Notification.ID, nil
}

// lookupRecipient finds the assignee of the requested role through the
// ticket and fills the
// ticket_uid and assignee_name variables when the caller left them out.
func (h *DispatchBatchHandler) lookupRecipient(
	ctx context.Context,
	ticketID string,
	recipientType notification.RecipientType,
	vars map[string]string,
) (*ticket.Person, error) {
	if h.tickets == nil || h.directory == nil {
		return nil, shared.ErrMissingPhone
	}

	t, err := h.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var kind ticket.Kind
	switch recipientType {
	case notification.RecipientTechnician:
		kind = ticket.KindUser
	case notification.RecipientContractor:
		kind = ticket.KindContractor
	default:
		return nil, errors.Join(shared.ErrMissingPhone,
			fmt.Errorf("no ticket lookup for recipient type %s", recipientType))
	}

	person, err := ticket.ResolveRole(ctx, h.directory, *t, kind)
	if err != nil {
		return nil, err
	}
	if !person.HasPhone() {
		return nil, errors.Join(shared.ErrMissingPhone, fmt.Errorf("assignee %s has no phone", person.ID))
	}

	if _, ok := vars["ticket_uid"]; !ok {
		vars["ticket_uid"] = t.TicketUID
	}
	if _, ok := vars["assignee_name"]; !ok {
		vars["assignee_name"] = person.Name
	}
	return person, nil
}
