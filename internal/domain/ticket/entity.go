// Package ticket holds the read-only view of the ticketing module that the
// notification engine needs: ticket snapshots, the people a ticket can be
// assigned to and QA risk acceptances.
package ticket

import (
	"strings"
	"time"
)

// Ticket is a snapshot of a ticket at the time an event was produced.
type Ticket struct {
	ID        string `json:"id"`
	TicketUID string `json:"ticket_uid"`
	Title     string `json:"title"`
	Status    string `json:"status"`

	// DRNumber is the drop reference, empty when not set.
	DRNumber string `json:"dr_number,omitempty"`

	// AssignedTo is the user id of the technician, empty when unassigned.
	AssignedTo string `json:"assigned_to,omitempty"`

	// AssignedContractorID is empty when no contractor is assigned.
	AssignedContractorID string `json:"assigned_contractor_id,omitempty"`

	SLADueAt *time.Time `json:"sla_due_at,omitempty"`
}

// HasAssignee returns true if a technician or contractor is assigned.
func (t Ticket) HasAssignee() bool {
	return t.AssignedTo != "" || t.AssignedContractorID != ""
}

// IsClosed returns true for tickets that no longer need SLA tracking.
func (t Ticket) IsClosed() bool {
	switch strings.ToLower(t.Status) {
	case "closed", "cancelled":
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENTS
// ══════════════════════════════════════════════════════════════════════════════

// Kind tells where a recipient record was found.
type Kind string

const (
	KindUser       Kind = "user"
	KindContractor Kind = "contractor"
)

// Person is a user or contractor who can receive notifications.
type Person struct {
	ID    string
	Name  string
	Phone string
	Kind  Kind
}

// HasPhone returns true if the person has a phone number on record.
func (p Person) HasPhone() bool {
	return strings.TrimSpace(p.Phone) != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// RISK ACCEPTANCES
// ══════════════════════════════════════════════════════════════════════════════

// RiskAcceptance is an active QA risk acceptance with an expiry date.
type RiskAcceptance struct {
	ID              string
	TicketID        string
	TicketUID       string
	AssignedTo      string
	RiskDescription string
	ExpiryDate      time.Time
}
