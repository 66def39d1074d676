package contracts

import (
	"context"
	"time"
)

// PresenceStore is the durable side of presence. Writes are best-effort:
// the registry logs failures and carries on.
type PresenceStore interface {
	UpdateUserPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// PresenceCache answers last-seen lookups for users that are not connected
// to this process.
type PresenceCache interface {
	PresenceStore
	LastSeen(ctx context.Context, userID string) (*time.Time, error)
}
