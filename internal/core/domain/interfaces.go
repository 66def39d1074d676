package domain

import (
	"context"
	"time"
)

// UserRepository reads profiles and records presence.
type UserRepository interface {
	FindUser(ctx context.Context, id string) (*User, error)
	FindUsers(ctx context.Context, ids []string) (map[string]*User, error)
	UpdateUserPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
}

// ConversationRepository handles the one-to-one conversation lifecycle.
type ConversationRepository interface {
	// FindOrCreateConversation returns the conversation between a and b,
	// creating it when none exists.
	FindOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error)
	// TouchLastMessage bumps the unread counter and, when msgID is not
	// empty, records it as the latest message.
	TouchLastMessage(ctx context.Context, convID, msgID string) error
}

// MessageRepository persists messages, delivery status and reactions.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// FindMessageByID returns ErrMessageNotFound when no row matches.
	FindMessageByID(ctx context.Context, id string) (*Message, error)
	UpdateMessageStatus(ctx context.Context, ids []string, status MessageStatus) error
	// MarkMessagesRead marks as read the messages among ids that senderID
	// sent to readerID and returns the ids it updated.
	MarkMessagesRead(ctx context.Context, ids []string, readerID, senderID string) ([]string, error)
	// SaveReactions replaces the stored reactions of a message.
	SaveReactions(ctx context.Context, messageID string, reactions []Reaction) error
}
