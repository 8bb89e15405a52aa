package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/application/apptest"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

func newBatchFixture(ch *apptest.Channel) (*DispatchBatchHandler, *apptest.Store) {
	store := apptest.NewStore()
	sender := NewSendNotificationHandler(store, ch, nil, nil)

	tickets := apptest.NewTickets(
		ticket.Ticket{ID: "t-lookup", TicketUID: "FT100", AssignedTo: "u-1"},
		ticket.Ticket{ID: "t-nophone", TicketUID: "FT101", AssignedTo: "u-2"},
		ticket.Ticket{ID: "t-both", TicketUID: "FT102", AssignedTo: "u-1", AssignedContractorID: "c-1"},
	)
	dir := apptest.NewDirectory()
	dir.Users["u-1"] = ticket.Person{Name: "Thabo", Phone: "+27820000001"}
	dir.Users["u-2"] = ticket.Person{Name: "Sipho"}
	dir.Contractors["c-1"] = ticket.Person{Name: "Fibre Co", Phone: "+27830000001"}

	return NewDispatchBatchHandler(sender, tickets, dir, 2, nil), store
}

func TestDispatchBatch_MixedOutcomes(t *testing.T) {
	ch := &apptest.Channel{}
	h, store := newBatchFixture(ch)

	cmd := DispatchBatchCommand{
		TemplateID:    notification.TemplateTicketClosed,
		RecipientType: notification.RecipientTechnician,
		TicketIDs:     []string{"t-explicit", "t-lookup", "t-nophone", "t-missing"},
		VariablesPerTicket: map[string]map[string]string{
			"t-explicit": {"recipient_phone": "+27820000009", "assignee_name": "Lerato", "ticket_uid": "FT099"},
		},
	}

	res, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.NotificationIDs, 2)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "t-nophone", res.Errors[0].TicketID)
	assert.Equal(t, "t-missing", res.Errors[1].TicketID)

	assert.Len(t, store.All(), 2)
	assert.Len(t, ch.Calls(), 2)
}

func TestDispatchBatch_LookupFillsVariables(t *testing.T) {
	ch := &apptest.Channel{}
	h, _ := newBatchFixture(ch)

	res, err := h.Handle(context.Background(), DispatchBatchCommand{
		TemplateID:    notification.TemplateTicketClosed,
		RecipientType: notification.RecipientTechnician,
		TicketIDs:     []string{"t-lookup"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	body := ch.Calls()[0].Body
	assert.Contains(t, body, "Thabo")
	assert.Contains(t, body, "FT100")
}

func TestDispatchBatch_LookupTargetsRequestedRole(t *testing.T) {
	tests := []struct {
		recipient notification.RecipientType
		phone     string
		name      string
	}{
		{notification.RecipientContractor, "+27830000001", "Fibre Co"},
		{notification.RecipientTechnician, "+27820000001", "Thabo"},
	}

	for _, tt := range tests {
		t.Run(tt.recipient.String(), func(t *testing.T) {
			ch := &apptest.Channel{}
			h, store := newBatchFixture(ch)

			res, err := h.Handle(context.Background(), DispatchBatchCommand{
				TemplateID:    notification.TemplateTicketClosed,
				RecipientType: tt.recipient,
				TicketIDs:     []string{"t-both"},
			})
			require.NoError(t, err)
			require.Equal(t, 1, res.Sent)

			calls := ch.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.phone, calls[0].Phone)
			assert.Contains(t, calls[0].Body, tt.name)

			all := store.All()
			require.Len(t, all, 1)
			assert.Equal(t, tt.recipient, all[0].RecipientType)
			assert.Equal(t, tt.phone, all[0].RecipientPhone)
		})
	}
}

func TestDispatchBatch_ContractorLookupDoesNotFallBackToTechnician(t *testing.T) {
	ch := &apptest.Channel{}
	h, _ := newBatchFixture(ch)

	res, err := h.Handle(context.Background(), DispatchBatchCommand{
		TemplateID:    notification.TemplateTicketClosed,
		RecipientType: notification.RecipientContractor,
		TicketIDs:     []string{"t-lookup"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, ch.Calls())
}

func TestDispatchBatch_GatewayFailureDoesNotStopOthers(t *testing.T) {
	ch := &apptest.Channel{Errs: []error{errors.New("HTTP 500 error")}}
	h, store := newBatchFixture(ch)
	h.concurrency = 1

	vars := map[string]string{"phone": "27820000009", "assignee_name": "A", "ticket_uid": "FT1"}
	res, err := h.Handle(context.Background(), DispatchBatchCommand{
		TemplateID:         notification.TemplateTicketClosed,
		RecipientType:      notification.RecipientTechnician,
		TicketIDs:          []string{"a", "b", "c"},
		VariablesPerTicket: map[string]map[string]string{"a": vars, "b": vars, "c": vars},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, store.All(), 3)
}

func TestDispatchBatch_Validates(t *testing.T) {
	h, _ := newBatchFixture(&apptest.Channel{})

	_, err := h.Handle(context.Background(), DispatchBatchCommand{
		TemplateID:    "unknown",
		RecipientType: notification.RecipientTechnician,
		TicketIDs:     []string{"t"},
	})
	assert.True(t, shared.IsTemplateError(err))

	_, err = h.Handle(context.Background(), DispatchBatchCommand{
		TemplateID:    notification.TemplateTicketClosed,
		RecipientType: notification.RecipientTechnician,
	})
	assert.True(t, shared.IsValidation(err))
}
