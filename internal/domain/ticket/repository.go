package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// Directory looks up ticket assignees.
type Directory interface {
	// FindUser returns the user or shared.ErrRecipientNotFound.
	FindUser(ctx context.Context, id string) (*Person, error)

	// FindContractor returns the contractor or shared.ErrRecipientNotFound.
	FindContractor(ctx context.Context, id string) (*Person, error)
}

// Repository reads tickets.
type Repository interface {
	// GetByID returns the ticket or shared.ErrTicketNotFound.
	GetByID(ctx context.Context, id string) (*Ticket, error)

	// ListSLADueBetween returns open, assigned tickets whose SLA deadline
	// falls in [from, to].
	ListSLADueBetween(ctx context.Context, from, to time.Time) ([]*Ticket, error)
}

// RiskRepository reads QA risk acceptances.
type RiskRepository interface {
	// ListExpiring returns active risk acceptances expiring on or before until.
	ListExpiring(ctx context.Context, until time.Time) ([]*RiskAcceptance, error)
}

// ResolveAssignee finds the person a ticket notification goes to.
// The technician is tried first. The contractor is tried only when
// withContractor is set and no technician record exists.
// It returns shared.ErrRecipientNotFound when nobody matches.
func ResolveAssignee(ctx context.Context, dir Directory, t Ticket, withContractor bool) (*Person, error) {
	if t.AssignedTo != "" {
		p, err := dir.FindUser(ctx, t.AssignedTo)
		if err == nil {
			p.Kind = KindUser
			return p, nil
		}
		if !errors.Is(err, shared.ErrRecipientNotFound) {
			return nil, err
		}
	}

	if withContractor && t.AssignedContractorID != "" {
		p, err := dir.FindContractor(ctx, t.AssignedContractorID)
		if err != nil {
			return nil, err
		}
		p.Kind = KindContractor
		return p, nil
	}

	return nil, shared.ErrRecipientNotFound
}

// ResolveRole finds exactly the assignee of the given kind: the technician
// for KindUser, the assigned contractor for KindContractor. There is no
// fallback to the other role.
func ResolveRole(ctx context.Context, dir Directory, t Ticket, kind Kind) (*Person, error) {
	var (
		p   *Person
		err error
	)
	switch {
	case kind == KindUser && t.AssignedTo != "":
		p, err = dir.FindUser(ctx, t.AssignedTo)
	case kind == KindContractor && t.AssignedContractorID != "":
		p, err = dir.FindContractor(ctx, t.AssignedContractorID)
	default:
		return nil, shared.ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Kind = kind
	return p, nil
}
