package contracts

import "context"

type TypingTracker interface {
	Start(ctx context.Context, userID, conversationID, receiverID string)
	Stop(ctx context.Context, userID, conversationID, receiverID string)
	// RemoveUser cancels every pending expiry of userID and returns how
	// many conversations were dropped.
	RemoveUser(userID string) int
}
