package config

import (
	"strings"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// loadPreferences reads one toggle per supported ticket event.
// Format: NOTIFY_<EVENT>=true|false
// Example: NOTIFY_SLA_WARNING=false
func loadPreferences(e *env) notification.Preferences {
	prefs := notification.DefaultPreferences()
	for _, t := range notification.SupportedEventTypes {
		prefs[t] = e.bool(PreferenceEnvKey(t), true)
	}
	return prefs
}

// PreferenceEnvKey converts an event type to its toggle variable.
// "ticket.qa_rejected" -> "NOTIFY_QA_REJECTED"
// "ticket.assigned"    -> "NOTIFY_TICKET_ASSIGNED"
func PreferenceEnvKey(t shared.EventType) string {
	name := strings.TrimPrefix(t.String(), "ticket.")
	switch name {
	case "assigned", "closed":
		name = "ticket_" + name
	}
	return "NOTIFY_" + strings.ToUpper(name)
}
