package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

func TestRender_TicketAssigned(t *testing.T) {
	tpl, err := GetTemplate(TemplateTicketAssigned)
	require.NoError(t, err)

	out := tpl.Render(map[string]string{
		"assignee_name": "John Doe",
		"ticket_uid":    "FT406824",
		"dr_number":     "DR12345",
		"ticket_title":  "X",
	})

	assert.Contains(t, out, "John Doe")
	assert.Contains(t, out, "FT406824")
	assert.Contains(t, out, "DR12345")
	assert.Contains(t, out, "Title: X")
	assert.NotContains(t, out, "{{")
}

func TestRender_LeavesUnknownPlaceholders(t *testing.T) {
	out := RenderText("Hi {{name}}, ticket {{ticket_uid}}", map[string]string{"name": "Ann", "unused": "x"})
	assert.Equal(t, "Hi Ann, ticket {{ticket_uid}}", out)
}

func TestRender_BlankMissing(t *testing.T) {
	out := RenderText("Hi {{name}}, ticket {{ ticket_uid }}", map[string]string{"name": "Ann"}, WithBlankMissing())
	assert.Equal(t, "Hi Ann, ticket ", out)
}

func TestRender_ReplacesEveryOccurrence(t *testing.T) {
	out := RenderText("{{a}}-{{a}}-{{a}}", map[string]string{"a": "1"})
	assert.Equal(t, "1-1-1", out)
}

func TestValidate_ReportsMissingAndEmpty(t *testing.T) {
	tpl, err := GetTemplate(TemplateQARejected)
	require.NoError(t, err)

	missing := tpl.Validate(map[string]string{"assignee_name": "Ann", "ticket_uid": " "})
	assert.ElementsMatch(t, []string{"ticket_uid", "rejection_reason"}, missing)

	assert.Empty(t, tpl.Validate(map[string]string{
		"assignee_name": "Ann", "ticket_uid": "FT1", "rejection_reason": "blurry photo",
	}))
}

func TestGetTemplate_NotFound(t *testing.T) {
	_, err := GetTemplate("nope")
	assert.ErrorIs(t, err, shared.ErrTemplateNotFound)
	assert.True(t, shared.IsNotFound(err))
	assert.False(t, HasTemplate("nope"))
	assert.True(t, HasTemplate(TemplateSLAWarning))
}

func TestTemplateIDs_AllRegistered(t *testing.T) {
	ids := TemplateIDs()
	assert.Len(t, ids, 8)
	for _, id := range ids {
		tpl, err := GetTemplate(id)
		require.NoError(t, err)
		assert.Equal(t, id, tpl.ID)
		assert.ElementsMatch(t, tpl.Variables, tpl.Placeholders(), "template %s declares exactly its placeholders", id)
	}
}

func TestPreview_UsesSampleValues(t *testing.T) {
	out, err := Preview(TemplateEscalationCreated)
	require.NoError(t, err)

	assert.Contains(t, out, "FT406824")
	assert.Contains(t, out, "PON PON-456")
	assert.Contains(t, out, "5 incidents")
	assert.NotContains(t, out, "{{")
}

func TestRenderTemplate_MissingVariables(t *testing.T) {
	_, err := RenderTemplate(TemplateTicketClosed, map[string]string{"ticket_uid": "FT1"})
	assert.ErrorIs(t, err, shared.ErrTemplateVariables)
	assert.True(t, shared.IsValidation(err))

	out, err := RenderTemplate(TemplateTicketClosed, map[string]string{"ticket_uid": "FT1", "assignee_name": "Ann"})
	require.NoError(t, err)
	assert.Contains(t, out, "Ticket FT1 has been successfully closed.")
}

func TestStats_DeliveryRate(t *testing.T) {
	s := NewStats(map[Status]int{StatusDelivered: 3, StatusRead: 1, StatusFailed: 4})
	assert.Equal(t, 8, s.Total)
	assert.InDelta(t, 50.0, s.DeliveryRate, 0.001)
	assert.Equal(t, 0, s.ByStatus[StatusPending])

	empty := NewStats(nil)
	assert.Zero(t, empty.DeliveryRate)
	assert.Len(t, empty.ByStatus, len(AllStatuses))
}

func TestPreferences_DefaultEnabled(t *testing.T) {
	p := Preferences{shared.EventTicketClosed: false}
	assert.False(t, p.Enabled(shared.EventTicketClosed))
	assert.True(t, p.Enabled(shared.EventTicketAssigned))

	var none Preferences
	assert.True(t, none.Enabled(shared.EventTicketSLAWarning))
}
