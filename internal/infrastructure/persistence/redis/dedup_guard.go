package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
)

// claimStore is the subset of Cache the guard needs.
type claimStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// DedupGuard implements notification.DedupGuard with SET NX EX claims keyed
// notification:dedup:<ticket>:<template>.
type DedupGuard struct {
	store claimStore
	owner string
}

// NewDedupGuard creates a new DedupGuard.
func NewDedupGuard(cache *Cache) *DedupGuard {
	return newDedupGuard(cache)
}

func newDedupGuard(store claimStore) *DedupGuard {
	host, _ := os.Hostname()
	return &DedupGuard{
		store: store,
		owner: host + ":" + strconv.Itoa(os.Getpid()),
	}
}

var _ notification.DedupGuard = (*DedupGuard)(nil)

// Claim returns true if no other trigger claimed the pair within window.
func (g *DedupGuard) Claim(ctx context.Context, ticketID, templateID string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = notification.DefaultDedupWindow
	}
	ok, err := g.store.SetNX(ctx, DedupKey(ticketID, templateID), g.owner, window)
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}
	return ok, nil
}

// Release deletes the claim.
func (g *DedupGuard) Release(ctx context.Context, ticketID, templateID string) error {
	if err := g.store.Delete(ctx, DedupKey(ticketID, templateID)); err != nil {
		return fmt.Errorf("failed to release dedup key: %w", err)
	}
	return nil
}
