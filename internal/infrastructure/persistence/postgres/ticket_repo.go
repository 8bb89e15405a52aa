package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENT DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

// DirectoryRepository implements ticket.Directory over the users and
// contractors tables.
type DirectoryRepository struct {
	conn *Connection
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(conn *Connection) *DirectoryRepository {
	return &DirectoryRepository{conn: conn}
}

var _ ticket.Directory = (*DirectoryRepository)(nil)

// FindUser returns a user by ID.
func (r *DirectoryRepository) FindUser(ctx context.Context, id string) (*ticket.Person, error) {
	return r.findPerson(ctx, `SELECT id::text, name, phone FROM users WHERE id = $1`, id, ticket.KindUser)
}

// FindContractor returns a contractor by ID.
func (r *DirectoryRepository) FindContractor(ctx context.Context, id string) (*ticket.Person, error) {
	return r.findPerson(ctx, `SELECT id::text, name, phone FROM contractors WHERE id = $1`, id, ticket.KindContractor)
}

func (r *DirectoryRepository) findPerson(ctx context.Context, query, id string, kind ticket.Kind) (*ticket.Person, error) {
	var (
		p           ticket.Person
		name, phone *string
	)

	err := r.conn.QueryRow(ctx, query, id).Scan(&p.ID, &name, &phone)
	if IsNoRows(err) {
		return nil, shared.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", kind, err)
	}

	p.Name = deref(name)
	p.Phone = deref(phone)
	p.Kind = kind
	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TICKET REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

const ticketColumns = `
	id::text, ticket_uid, title, status, dr_number,
	assigned_to::text, assigned_contractor_id::text, sla_due_at`

// TicketRepository implements ticket.Repository for PostgreSQL.
type TicketRepository struct {
	conn *Connection
}

// NewTicketRepository creates a new TicketRepository.
func NewTicketRepository(conn *Connection) *TicketRepository {
	return &TicketRepository{conn: conn}
}

var _ ticket.Repository = (*TicketRepository)(nil)

// GetByID returns a ticket by ID.
func (r *TicketRepository) GetByID(ctx context.Context, id string) (*ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	t, err := scanTicket(r.conn.QueryRow(ctx, query, id))
	if IsNoRows(err) {
		return nil, shared.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// ListSLADueBetween returns open, assigned tickets with an SLA deadline in [from, to].
func (r *TicketRepository) ListSLADueBetween(ctx context.Context, from, to time.Time) ([]*ticket.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE sla_due_at IS NOT NULL
		  AND sla_due_at BETWEEN $1 AND $2
		  AND COALESCE(sla_breached, false) = false
		  AND status NOT IN ('closed', 'cancelled')
		  AND (assigned_to IS NOT NULL OR assigned_contractor_id IS NOT NULL)
		ORDER BY sla_due_at ASC
	`

	rows, err := r.conn.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query SLA due tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t                                 ticket.Ticket
		title, dr, assignee, contractorID *string
	)

	if err := row.Scan(&t.ID, &t.TicketUID, &title, &t.Status, &dr, &assignee, &contractorID, &t.SLADueAt); err != nil {
		return nil, err
	}

	t.Title = deref(title)
	t.DRNumber = deref(dr)
	t.AssignedTo = deref(assignee)
	t.AssignedContractorID = deref(contractorID)
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RISK ACCEPTANCE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// RiskRepository implements ticket.RiskRepository for PostgreSQL.
type RiskRepository struct {
	conn *Connection
}

// NewRiskRepository creates a new RiskRepository.
func NewRiskRepository(conn *Connection) *RiskRepository {
	return &RiskRepository{conn: conn}
}

var _ ticket.RiskRepository = (*RiskRepository)(nil)

// ListExpiring returns active risk acceptances expiring on or before until,
// soonest first.
func (r *RiskRepository) ListExpiring(ctx context.Context, until time.Time) ([]*ticket.RiskAcceptance, error) {
	query := `
		SELECT ra.id::text, ra.ticket_id::text, t.ticket_uid, t.assigned_to::text,
		       ra.risk_description, ra.risk_expiry_date
		FROM qa_risk_acceptances ra
		JOIN tickets t ON t.id = ra.ticket_id
		WHERE ra.status = $1
		  AND ra.risk_expiry_date IS NOT NULL
		  AND ra.risk_expiry_date <= $2
		ORDER BY ra.risk_expiry_date ASC
	`

	rows, err := r.conn.Query(ctx, query, "active", until)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring risk acceptances: %w", err)
	}
	defer rows.Close()

	var out []*ticket.RiskAcceptance
	for rows.Next() {
		var (
			ra                ticket.RiskAcceptance
			assignee, details *string
		)
		if err := rows.Scan(&ra.ID, &ra.TicketID, &ra.TicketUID, &assignee, &details, &ra.ExpiryDate); err != nil {
			return nil, fmt.Errorf("failed to scan risk acceptance: %w", err)
		}
		ra.AssignedTo = deref(assignee)
		ra.RiskDescription = deref(details)
		out = append(out, &ra)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate risk acceptances: %w", err)
	}
	return out, nil
}
