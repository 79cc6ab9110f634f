// Package lease provides exclusive, expiring per-key leases. The curator
// holds one per site for the duration of a cycle so two cycles never
// evaluate or promote the same interactions.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld is returned by Acquire when another holder owns the key.
	ErrHeld = errors.New("lease held by another owner")

	// ErrNotHeld is returned by Release when the lease expired or was taken over.
	ErrNotHeld = errors.New("lease no longer held")
)

// Lease is an acquired lock.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out leases.
type Locker interface {
	// Acquire returns ErrHeld immediately rather than waiting.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Close() error
}

// CuratorKey is the lease key for a site's curator cycle.
func CuratorKey(siteID string) string {
	return "mirror:curator:" + siteID
}
