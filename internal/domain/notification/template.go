package notification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// TemplateID identifies a message template by use case.
type TemplateID string

const (
	TemplateTicketAssigned    TemplateID = "ticket_assigned"
	TemplateQARejected        TemplateID = "qa_rejected"
	TemplateQAApproved        TemplateID = "qa_approved"
	TemplateTicketClosed      TemplateID = "ticket_closed"
	TemplateSLAWarning        TemplateID = "sla_warning"
	TemplateRiskExpiring      TemplateID = "risk_expiring"
	TemplateEscalationCreated TemplateID = "escalation_created"
	TemplateHandoverComplete  TemplateID = "handover_complete"
)

// String returns the string representation.
func (id TemplateID) String() string {
	return string(id)
}

// Template is a WhatsApp message body with {{name}} placeholders.
type Template struct {
	ID          TemplateID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Body        string     `json:"template"`
	Variables   []string   `json:"variables"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// templates is read-only after package init.
var templates = map[TemplateID]Template{
	TemplateTicketAssigned: {
		ID:          TemplateTicketAssigned,
		Name:        "Ticket Assignment",
		Description: "Sent when a ticket is assigned to a technician or contractor",
		Body: "Hi {{assignee_name}},\n\n" +
			"You have been assigned ticket {{ticket_uid}}.\n\n" +
			"Title: {{ticket_title}}\n" +
			"DR Number: {{dr_number}}\n\n" +
			"Please review the details and take action as required.",
		Variables: []string{"assignee_name", "ticket_uid", "dr_number", "ticket_title"},
	},
	TemplateQARejected: {
		ID:          TemplateQARejected,
		Name:        "QA Rejection",
		Description: "Sent when a ticket fails QA review",
		Body: "Hi {{assignee_name}},\n\n" +
			"Ticket {{ticket_uid}} has been rejected by QA.\n\n" +
			"Reason: {{rejection_reason}}\n\n" +
			"Please review the feedback, make the necessary corrections, and resubmit for QA approval.",
		Variables: []string{"assignee_name", "ticket_uid", "rejection_reason"},
	},
	TemplateQAApproved: {
		ID:          TemplateQAApproved,
		Name:        "QA Approval",
		Description: "Sent when a ticket passes QA review",
		Body: "Hi {{assignee_name}},\n\n" +
			"Great work! Ticket {{ticket_uid}} has been approved by QA.\n\n" +
			"The ticket is now ready for handover to maintenance.",
		Variables: []string{"assignee_name", "ticket_uid"},
	},
	TemplateTicketClosed: {
		ID:          TemplateTicketClosed,
		Name:        "Ticket Closed",
		Description: "Sent when a ticket is closed",
		Body: "Hi {{assignee_name}},\n\n" +
			"Ticket {{ticket_uid}} has been successfully closed.\n\n" +
			"Thank you for your service and contribution to completing this work.",
		Variables: []string{"assignee_name", "ticket_uid"},
	},
	TemplateSLAWarning: {
		ID:          TemplateSLAWarning,
		Name:        "SLA Warning",
		Description: "Sent when a ticket approaches its SLA deadline",
		Body: "⚠️ SLA Warning\n\n" +
			"Ticket {{ticket_uid}} is approaching its SLA deadline.\n\n" +
			"Due: {{sla_due_time}}\n" +
			"Assignee: {{assignee_name}}\n\n" +
			"Please prioritize this ticket to avoid SLA breach.",
		Variables: []string{"ticket_uid", "sla_due_time", "assignee_name"},
	},
	TemplateRiskExpiring: {
		ID:          TemplateRiskExpiring,
		Name:        "Risk Acceptance Expiring",
		Description: "Sent when a QA risk acceptance is close to its expiry date",
		Body: "⚠️ Risk Acceptance Expiring\n\n" +
			"Ticket {{ticket_uid}} has a risk acceptance that is expiring on {{expiry_date}}.\n\n" +
			"Risk: {{risk_description}}\n\n" +
			"Please take action to resolve the identified risk before the expiry date.",
		Variables: []string{"ticket_uid", "expiry_date", "risk_description"},
	},
	TemplateEscalationCreated: {
		ID:          TemplateEscalationCreated,
		Name:        "Escalation Created",
		Description: "Sent when repeat faults create an infrastructure escalation",
		Body: "🚨 Escalation Created\n\n" +
			"Infrastructure escalation ticket {{ticket_uid}} has been created due to repeat faults.\n\n" +
			"Scope: {{scope_type}} {{scope_value}}\n" +
			"Fault Count: {{fault_count}} incidents\n\n" +
			"This requires immediate investigation to identify and resolve the root cause.",
		Variables: []string{"ticket_uid", "scope_type", "scope_value", "fault_count"},
	},
	TemplateHandoverComplete: {
		ID:          TemplateHandoverComplete,
		Name:        "Handover Complete",
		Description: "Sent when ticket ownership is handed over",
		Body: "✓ Handover Complete\n\n" +
			"Ticket {{ticket_uid}} has been successfully handed over.\n\n" +
			"Handover: {{handover_type}}\n" +
			"From: {{from_owner}}\n" +
			"To: {{to_owner}}\n\n" +
			"All documentation and evidence have been transferred and locked.",
		Variables: []string{"ticket_uid", "handover_type", "from_owner", "to_owner"},
	},
}

// previewValues are the sample values used by Preview.
var previewValues = map[string]string{
	"ticket_uid":       "FT406824",
	"assignee_name":    "John Doe",
	"contractor_name":  "ABC Contractors",
	"dr_number":        "DR12345",
	"ticket_title":     "Fiber installation required",
	"rejection_reason": "Missing photos for steps 5 and 7",
	"sla_due_time":     "2025-12-27 15:00",
	"risk_description": "Minor cable bend exceeds recommended radius",
	"expiry_date":      "2025-12-30",
	"scope_type":       "PON",
	"scope_value":      "PON-456",
	"fault_count":      "5",
	"handover_type":    "QA to Maintenance",
	"from_owner":       "QA Team",
	"to_owner":         "Maintenance Team",
}

// GetTemplate returns a template by ID or shared.ErrTemplateNotFound.
func GetTemplate(id TemplateID) (Template, error) {
	t, ok := templates[id]
	if !ok {
		return Template{}, shared.WrapError("template", "Find", shared.ErrNotFound,
			fmt.Sprintf("template %q not found", id), shared.ErrTemplateNotFound)
	}
	return t, nil
}

// HasTemplate reports whether a template with this ID exists.
func HasTemplate(id TemplateID) bool {
	_, ok := templates[id]
	return ok
}

// TemplateIDs returns every registered template ID in sorted order.
func TemplateIDs() []TemplateID {
	ids := make([]TemplateID, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Templates returns every registered template in ID order.
func Templates() []Template {
	ids := TemplateIDs()
	out := make([]Template, 0, len(ids))
	for _, id := range ids {
		out = append(out, templates[id])
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RENDERING
// ══════════════════════════════════════════════════════════════════════════════

// RenderOption configures Render.
type RenderOption func(*renderOptions)

type renderOptions struct {
	blankMissing bool
}

// WithBlankMissing replaces placeholders that have no variable with "".
func WithBlankMissing() RenderOption {
	return func(o *renderOptions) {
		o.blankMissing = true
	}
}

// Render substitutes every {{name}} in the body. Unknown placeholders are
// left as-is unless WithBlankMissing is given. Extra variables are ignored.
func (t Template) Render(vars map[string]string, opts ...RenderOption) string {
	return RenderText(t.Body, vars, opts...)
}

// RenderText substitutes {{name}} placeholders in an arbitrary string.
func RenderText(body string, vars map[string]string, opts ...RenderOption) string {
	var o renderOptions
	for _, opt := range opts {
		opt(&o)
	}
	return placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if o.blankMissing {
			return ""
		}
		return m
	})
}

// Validate returns the declared variables that are missing or empty in vars.
// An empty result means the template can be rendered completely.
func (t Template) Validate(vars map[string]string) []string {
	var missing []string
	for _, name := range t.Variables {
		if strings.TrimSpace(vars[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Placeholders returns the distinct placeholder names used in the body.
func (t Template) Placeholders() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Body, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// Preview renders a template with sample values. Variables without a sample
// are shown as [name].
func Preview(id TemplateID) (string, error) {
	t, err := GetTemplate(id)
	if err != nil {
		return "", err
	}
	vars := make(map[string]string, len(t.Variables))
	for _, name := range t.Placeholders() {
		if v, ok := previewValues[name]; ok {
			vars[name] = v
		} else {
			vars[name] = "[" + name + "]"
		}
	}
	return t.Render(vars), nil
}

// RenderTemplate validates and renders a template by ID.
func RenderTemplate(id TemplateID, vars map[string]string) (string, error) {
	t, err := GetTemplate(id)
	if err != nil {
		return "", err
	}
	if missing := t.Validate(vars); len(missing) > 0 {
		return "", shared.WrapError("template", "Validate", shared.ErrValidation,
			"missing required variables: "+strings.Join(missing, ", "), shared.ErrTemplateVariables)
	}
	return t.Render(vars), nil
}
