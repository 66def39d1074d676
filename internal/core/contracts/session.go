package contracts

import "context"

// Session is the per-connection view the relay handlers work against.
type Session interface {
	ID() string
	// UserID returns the bound identity; ok is false before the identity
	// announcement and after close.
	UserID() (id string, ok bool)
	Bind(ctx context.Context, userID string) error
	// Send emits an event to this connection only.
	Send(ctx context.Context, event string, payload any) error
	// Reply answers a request/callback exchange identified by ack.
	Reply(ctx context.Context, ack string, payload any) error
}
