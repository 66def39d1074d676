package postgres

import (
	"chatrelay/internal/core/domain"
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindOrCreateConversation returns the one-to-one conversation between a
// and b, creating it on first contact. The pair is stored in sorted order so
// both directions resolve to the same row.
func (r *ConversationRepo) FindOrCreateConversation(ctx context.Context, a, b string) (*domain.Conversation, error) {
	if a == "" || b == "" {
		return nil, domain.ErrInvalidUserID
	}
	if b < a {
		a, b = b, a
	}
	conv := &domain.Conversation{Participants: [2]string{a, b}}
	var lastMessageID sql.NullString
	// The no-op update makes RETURNING yield the existing row on conflict
	query := `
		INSERT INTO conversations (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b) DO UPDATE SET participant_a = EXCLUDED.participant_a
		RETURNING id, last_message_id, unread_count, updated_at`

	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, query, uuid.NewString(), a, b).
		Scan(&conv.ID, &lastMessageID, &conv.UnreadCount, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conv.LastMessageID = lastMessageID.String
	return conv, nil
}

// TouchLastMessage bumps the unread counter. A non-empty msgID also becomes
// the conversation's last message.
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, convID, msgID string) error {
	if convID == "" {
		return domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = COALESCE($2, last_message_id), unread_count = unread_count + 1, updated_at = now()
		WHERE id = $1
	`, convID, sql.NullString{String: msgID, Valid: msgID != ""})
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
