package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/application/apptest"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

var assignedVars = map[string]string{
	"assignee_name": "Thabo",
	"ticket_uid":    "FT406824",
	"dr_number":     "DR12345",
	"ticket_title":  "Fibre cut on Main Rd",
}

func newSendFixture() (*SendNotificationHandler, *apptest.Store, *apptest.Channel, *apptest.Publisher) {
	store := apptest.NewStore()
	ch := &apptest.Channel{}
	pub := &apptest.Publisher{}
	return NewSendNotificationHandler(store, ch, pub, nil), store, ch, pub
}

func assignedCommand() SendNotificationCommand {
	return SendNotificationCommand{
		TicketID:       "t-1",
		RecipientType:  notification.RecipientTechnician,
		RecipientPhone: "+27821234567",
		RecipientName:  "Thabo",
		TemplateID:     notification.TemplateTicketAssigned,
		Variables:      assignedVars,
	}
}

func TestSendNotification_RendersAndRecordsSent(t *testing.T) {
	h, store, ch, pub := newSendFixture()

	res, err := h.Handle(context.Background(), assignedCommand())
	require.NoError(t, err)

	n := res.Notification
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.NotEmpty(t, n.WAHAMessageID)
	require.NotNil(t, n.SentAt)
	assert.Empty(t, n.ErrorMessage)

	calls := ch.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+27821234567", calls[0].Phone)
	for _, v := range assignedVars {
		assert.Contains(t, calls[0].Body, v)
	}
	assert.NotContains(t, calls[0].Body, "{{")

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status)
	assert.Equal(t, "ticket_assigned", stored.TemplateID)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventNotificationSent, events[0].EventType())
}

func TestSendNotification_LiteralContent(t *testing.T) {
	h, _, ch, _ := newSendFixture()

	cmd := SendNotificationCommand{
		RecipientType:  notification.RecipientTeam,
		RecipientPhone: "27821234567",
		MessageContent: "Crew briefing at 07:00 {{not_a_var}}",
	}
	res, err := h.Handle(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "Crew briefing at 07:00 {{not_a_var}}", ch.Calls()[0].Body)
	assert.Empty(t, res.Notification.TemplateID)
	assert.False(t, res.Notification.IsTicketScoped())
}

func TestSendNotification_ValidationStoresNothing(t *testing.T) {
	h, store, ch, _ := newSendFixture()

	cmd := assignedCommand()
	cmd.TemplateID = ""
	_, err := h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, shared.ErrMissingContent)
	assert.True(t, shared.IsValidation(err))

	cmd = assignedCommand()
	cmd.RecipientPhone = " "
	_, err = h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, shared.ErrMissingPhone)

	assert.Empty(t, store.All())
	assert.Empty(t, ch.Calls())
}

func TestSendNotification_TemplateErrorsStoreNothing(t *testing.T) {
	h, store, ch, _ := newSendFixture()

	cmd := assignedCommand()
	cmd.TemplateID = "no_such_template"
	_, err := h.Handle(context.Background(), cmd)
	assert.True(t, shared.IsTemplateError(err))

	cmd = assignedCommand()
	cmd.Variables = map[string]string{"assignee_name": "Thabo"}
	_, err = h.Handle(context.Background(), cmd)
	assert.True(t, shared.IsTemplateError(err))
	assert.Contains(t, err.Error(), "ticket_uid")

	assert.Empty(t, store.All())
	assert.Empty(t, ch.Calls())
}

func TestSendNotification_GatewayFailureIsRecorded(t *testing.T) {
	h, store, _, pub := newSendFixture()
	gatewayErr := errors.New("waha: AUTHENTICATION_ERROR: invalid key (status 401)")
	h.channel = &apptest.Channel{Errs: []error{gatewayErr}}

	res, err := h.Handle(context.Background(), assignedCommand())
	require.ErrorIs(t, err, gatewayErr)
	require.NotNil(t, res)

	assert.Equal(t, notification.StatusFailed, res.Notification.Status)
	assert.Equal(t, gatewayErr.Error(), res.Notification.ErrorMessage)
	assert.True(t, res.Notification.CanRetry())

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, notification.StatusFailed, all[0].Status)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.EventNotificationFailed, events[0].EventType())
}

func TestSendNotification_PersistFailureAfterSendNamesMessage(t *testing.T) {
	h, store, _, _ := newSendFixture()
	store.UpdateErr = errors.New("connection reset")

	res, err := h.Handle(context.Background(), assignedCommand())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, strings.Contains(err.Error(), "accepted by gateway but not recorded"))
	assert.Contains(t, err.Error(), "true_+27821234567_msg1")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSendNotification_RecordsOutcomeAfterCallerCancels(t *testing.T) {
	t.Run("sent", func(t *testing.T) {
		h, store, _, _ := newSendFixture()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.channel = notification.ChannelFunc(func(context.Context, string, string) (*notification.Receipt, error) {
			cancel()
			return &notification.Receipt{MessageID: "true_27821234567@c.us_ABC", Attempts: 1}, nil
		})

		res, err := h.Handle(ctx, assignedCommand())
		require.NoError(t, err)
		assert.Equal(t, notification.StatusSent, res.Notification.Status)

		all := store.All()
		require.Len(t, all, 1)
		assert.Equal(t, notification.StatusSent, all[0].Status)
		assert.Equal(t, "true_27821234567@c.us_ABC", all[0].WAHAMessageID)
	})

	t.Run("failed", func(t *testing.T) {
		h, store, _, _ := newSendFixture()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.channel = notification.ChannelFunc(func(context.Context, string, string) (*notification.Receipt, error) {
			cancel()
			return nil, context.Canceled
		})

		_, err := h.Handle(ctx, assignedCommand())
		require.ErrorIs(t, err, context.Canceled)

		all := store.All()
		require.Len(t, all, 1)
		assert.Equal(t, notification.StatusFailed, all[0].Status)
		assert.Equal(t, context.Canceled.Error(), all[0].ErrorMessage)
	})
}

func TestSendNotification_CreateFailureSkipsGateway(t *testing.T) {
	h, store, ch, _ := newSendFixture()
	store.CreateErr = errors.New("db down")

	_, err := h.Handle(context.Background(), assignedCommand())
	require.Error(t, err)
	assert.Empty(t, ch.Calls())
}
