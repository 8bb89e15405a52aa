// Package apptest provides in-memory implementations of the domain
// interfaces for application-level tests.
package apptest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is an in-memory notification.Repository.
type Store struct {
	mu   sync.Mutex
	rows map[notification.NotificationID]*notification.Notification
	seq  int

	// Now stamps created_at and updated_at.
	Now func() time.Time

	// Injected failures.
	CreateErr     error
	UpdateErr     error
	FindRecentErr error
}

var _ notification.Repository = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rows: make(map[notification.NotificationID]*notification.Notification),
		Now:  time.Now,
	}
}

// Create implements notification.Repository. Like a database driver it
// refuses to write on a finished context.
func (s *Store) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}

	s.seq++
	cp := *n
	if cp.ID == "" {
		cp.ID = notification.NotificationID(fmt.Sprintf("n-%d", s.seq))
	}
	cp.CreatedAt = s.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.rows[cp.ID] = &cp

	out := cp
	return &out, nil
}

// GetByID implements notification.Repository.
func (s *Store) GetByID(_ context.Context, id notification.NotificationID) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return nil, shared.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

// GetByMessageID implements notification.Repository.
func (s *Store) GetByMessageID(_ context.Context, messageID string) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.byMessageID(messageID)
	if n == nil {
		return nil, shared.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

// UpdateStatus implements notification.Repository. It fails on a finished
// context.
func (s *Store) UpdateStatus(ctx context.Context, id notification.NotificationID, tr notification.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	n, ok := s.rows[id]
	if !ok {
		return shared.ErrNotificationNotFound
	}
	n.Apply(tr)
	n.UpdatedAt = s.Now()
	return nil
}

// UpdateByMessageID implements notification.Repository. The store mutex
// stands in for the row lock.
func (s *Store) UpdateByMessageID(
	_ context.Context,
	messageID string,
	decide notification.DecideFunc,
) (*notification.Notification, notification.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.byMessageID(messageID)
	if n == nil {
		return nil, notification.DecisionInvalid, shared.ErrNotificationNotFound
	}

	tr, decision := decide(n)
	if decision == notification.DecisionApply {
		if s.UpdateErr != nil {
			return nil, decision, s.UpdateErr
		}
		n.Apply(tr)
		n.UpdatedAt = s.Now()
	}
	cp := *n
	return &cp, decision, nil
}

// FindRecent implements notification.Repository.
func (s *Store) FindRecent(_ context.Context, ticketID, templateID string, since time.Time) (notification.NotificationID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FindRecentErr != nil {
		return "", false, s.FindRecentErr
	}
	for _, n := range s.sorted() {
		if n.TicketID == ticketID && n.TemplateID == templateID && !n.CreatedAt.Before(since) {
			return n.ID, true, nil
		}
	}
	return "", false, nil
}

// List implements notification.Repository.
func (s *Store) List(_ context.Context, filter notification.ListFilter) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*notification.Notification
	for _, n := range s.sorted() {
		if matches(n, filter) {
			cp := *n
			out = append(out, &cp)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats implements notification.Repository.
func (s *Store) Stats(_ context.Context, filter notification.ListFilter) (*notification.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[notification.Status]int)
	for _, n := range s.rows {
		if matches(n, filter) {
			counts[n.Status]++
		}
	}
	return notification.NewStats(counts), nil
}

// All returns a copy of every stored notification, newest first.
func (s *Store) All() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notification.Notification, 0, len(s.rows))
	for _, n := range s.sorted() {
		out = append(out, *n)
	}
	return out
}

// Put stores n as-is, for seeding.
func (s *Store) Put(n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.Now()
	}
	s.rows[n.ID] = &n
}

func (s *Store) byMessageID(id string) *notification.Notification {
	for _, n := range s.rows {
		if n.WAHAMessageID == id {
			return n
		}
	}
	return nil
}

// sorted returns rows newest first, ties broken by id.
func (s *Store) sorted() []*notification.Notification {
	out := make([]*notification.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func matches(n *notification.Notification, f notification.ListFilter) bool {
	if f.TicketID != "" && n.TicketID != f.TicketID {
		return false
	}
	if st := f.EffectiveStatuses(); len(st) > 0 && !containsStatus(st, n.Status) {
		return false
	}
	if len(f.RecipientTypes) > 0 && !containsType(f.RecipientTypes, n.RecipientType) {
		return false
	}
	if f.SentAfter != nil && (n.SentAt == nil || n.SentAt.Before(*f.SentAfter)) {
		return false
	}
	if f.SentBefore != nil && (n.SentAt == nil || n.SentAt.After(*f.SentBefore)) {
		return false
	}
	return true
}

func containsStatus(list []notification.Status, s notification.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []notification.RecipientType, t notification.RecipientType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// Sent is one message handed to a Channel.
type Sent struct {
	Phone string
	Body  string
}

// Channel is a scripted notification.Channel. Errs are returned in order,
// one per call; once exhausted every call succeeds.
type Channel struct {
	mu    sync.Mutex
	Errs  []error
	calls []Sent
}

var _ notification.Channel = (*Channel)(nil)

// Send implements notification.Channel.
func (c *Channel) Send(_ context.Context, phone, body string) (*notification.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Sent{Phone: phone, Body: body})
	if len(c.Errs) > 0 {
		err := c.Errs[0]
		c.Errs = c.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &notification.Receipt{
		MessageID: fmt.Sprintf("true_%s_msg%d", phone, len(c.calls)),
		Timestamp: time.Date(2025, 12, 27, 10, 0, len(c.calls), 0, time.UTC),
		Attempts:  1,
	}, nil
}

// Calls returns every message sent so far.
func (c *Channel) Calls() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.calls...)
}

// ══════════════════════════════════════════════════════════════════════════════
// TICKETS AND PEOPLE
// ══════════════════════════════════════════════════════════════════════════════

// Directory is an in-memory ticket.Directory.
type Directory struct {
	Users       map[string]ticket.Person
	Contractors map[string]ticket.Person
	Err         error
}

var _ ticket.Directory = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		Users:       make(map[string]ticket.Person),
		Contractors: make(map[string]ticket.Person),
	}
}

// FindUser implements ticket.Directory.
func (d *Directory) FindUser(_ context.Context, id string) (*ticket.Person, error) {
	return d.find(d.Users, id, ticket.KindUser)
}

// FindContractor implements ticket.Directory.
func (d *Directory) FindContractor(_ context.Context, id string) (*ticket.Person, error) {
	return d.find(d.Contractors, id, ticket.KindContractor)
}

func (d *Directory) find(m map[string]ticket.Person, id string, kind ticket.Kind) (*ticket.Person, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	p, ok := m[id]
	if !ok {
		return nil, shared.ErrRecipientNotFound
	}
	p.ID = id
	p.Kind = kind
	return &p, nil
}

// Tickets is an in-memory ticket.Repository and ticket.RiskRepository.
type Tickets struct {
	Tickets map[string]ticket.Ticket
	Risks   []ticket.RiskAcceptance
	Err     error
}

var (
	_ ticket.Repository     = (*Tickets)(nil)
	_ ticket.RiskRepository = (*Tickets)(nil)
)

// NewTickets creates an empty ticket store.
func NewTickets(ts ...ticket.Ticket) *Tickets {
	m := make(map[string]ticket.Ticket, len(ts))
	for _, t := range ts {
		m[t.ID] = t
	}
	return &Tickets{Tickets: m}
}

// GetByID implements ticket.Repository.
func (r *Tickets) GetByID(_ context.Context, id string) (*ticket.Ticket, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	t, ok := r.Tickets[id]
	if !ok {
		return nil, shared.ErrTicketNotFound
	}
	return &t, nil
}

// ListSLADueBetween implements ticket.Repository.
func (r *Tickets) ListSLADueBetween(_ context.Context, from, to time.Time) ([]*ticket.Ticket, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*ticket.Ticket
	for _, t := range r.Tickets {
		if t.SLADueAt == nil || t.IsClosed() || !t.HasAssignee() {
			continue
		}
		if t.SLADueAt.Before(from) || t.SLADueAt.After(to) {
			continue
		}
		cp := t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADueAt.Before(*out[j].SLADueAt) })
	return out, nil
}

// ListExpiring implements ticket.RiskRepository.
func (r *Tickets) ListExpiring(_ context.Context, until time.Time) ([]*ticket.RiskAcceptance, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*ticket.RiskAcceptance
	for i := range r.Risks {
		if !r.Risks[i].ExpiryDate.After(until) {
			ra := r.Risks[i]
			out = append(out, &ra)
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS AND DEDUP
// ══════════════════════════════════════════════════════════════════════════════

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []shared.Event
}

// Publish implements shared.EventPublisher.
func (p *Publisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Events returns every published event.
func (p *Publisher) Events() []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.Event(nil), p.events...)
}

// Guard is an in-memory notification.DedupGuard.
type Guard struct {
	mu       sync.Mutex
	claims   map[string]bool
	Err      error
	Released int
}

var _ notification.DedupGuard = (*Guard)(nil)

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{claims: make(map[string]bool)}
}

// Claim implements notification.DedupGuard.
func (g *Guard) Claim(_ context.Context, ticketID, templateID string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Err != nil {
		return false, g.Err
	}
	key := ticketID + ":" + templateID
	if g.claims[key] {
		return false, nil
	}
	g.claims[key] = true
	return true, nil
}

// Release implements notification.DedupGuard.
func (g *Guard) Release(_ context.Context, ticketID, templateID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.claims, ticketID+":"+templateID)
	g.Released++
	return nil
}
