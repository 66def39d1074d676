package contracts

import (
	"chatrelay/internal/core/domain"
	"context"
)

// Registry is the presence registry: the single source of truth for which
// users are connected and through which connection.
type Registry interface {
	// Register binds userID to c, replacing any previous binding, and
	// announces the user as online.
	Register(ctx context.Context, userID string, c Client)
	// Unregister drops the binding if it still points at c and announces
	// the user as offline. It reports whether a binding was removed.
	Unregister(ctx context.Context, userID string, c Client) bool
	IsOnline(userID string) bool
	Query(userID string) domain.UserStatus
	// Emit sends one event to userID's connection. It reports false when
	// the user is offline or the send failed.
	Emit(ctx context.Context, userID, event string, payload any) bool
	Broadcast(ctx context.Context, event string, payload any)
}

// Client represents the minimal interface required for the Registry to
// communicate with an individual WebSocket connection.
type Client interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close()
}
