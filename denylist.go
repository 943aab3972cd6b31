package accounts

import (
	"context"
	"sync"
	"time"
)

// Denylist records revoked token ids until their natural expiry. Add is
// atomic: it reports false when the id was already present.
type Denylist interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// MemoryDenylist is a process local Denylist. Entries are pruned lazily.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the time source
func (d *MemoryDenylist) WithClock(now func() time.Time) *MemoryDenylist {
	if now != nil {
		d.now = now
	}
	return d
}

func (d *MemoryDenylist) Add(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)
	if _, ok := d.entries[tokenID]; ok {
		return false, nil
	}
	d.entries[tokenID] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDenylist) Contains(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	until, ok := d.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !d.now().Before(until) {
		delete(d.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of live entries
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune(d.now())
	return len(d.entries)
}

func (d *MemoryDenylist) prune(now time.Time) {
	for id, until := range d.entries {
		if !now.Before(until) {
			delete(d.entries, id)
		}
	}
}
