package postgres

import (
	"chatrelay/internal/core/domain"
	"context"
	"database/sql"
	"errors"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

func (r *MessageRepo) SaveMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		return domain.ErrInvalidMessageID
	}
	if msg.ConversationID == "" {
		return domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender_id, receiver_id, content, media_url, content_type, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.MediaURL,
		string(msg.ContentType),
		string(msg.Status),
		msg.CreatedAt,
	)
	return err
}

// FindMessageByID loads a message with its reactions. Inside a transaction
// the message row is locked until commit.
func (r *MessageRepo) FindMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	if id == "" {
		return nil, domain.ErrInvalidMessageID
	}
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, media_url, content_type, status, created_at
		FROM messages
		WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	exec := GetExecutor(ctx, r.db)
	var m domain.Message
	err := exec.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&m.MediaURL,
		&m.ContentType,
		&m.Status,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var re domain.Reaction
		if err := rows.Scan(&re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, err
		}
		m.Reactions = append(m.Reactions, re)
	}
	return &m, rows.Err()
}

func (r *MessageRepo) UpdateMessageStatus(ctx context.Context, ids []string, status domain.MessageStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	if len(ids) == 0 {
		return nil
	}
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET status = $1
		WHERE id = ANY($2)
	`, string(status), ids)
	return err
}

// MarkMessagesRead only touches messages senderID sent to readerID, so a
// reader cannot mark or report someone else's messages.
func (r *MessageRepo) MarkMessagesRead(ctx context.Context, ids []string, readerID, senderID string) ([]string, error) {
	if readerID == "" || senderID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if len(ids) == 0 {
		return nil, nil
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		UPDATE messages
		SET status = $1
		WHERE id = ANY($2) AND receiver_id = $3 AND sender_id = $4
		RETURNING id
	`, string(domain.StatusRead), ids, readerID, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	updated := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// keep the caller's order
	out := make([]string, 0, len(updated))
	for _, id := range ids {
		if _, ok := updated[id]; ok {
			out = append(out, id)
			delete(updated, id)
		}
	}
	return out, nil
}

// SaveReactions replaces the stored reaction list of a message.
func (r *MessageRepo) SaveReactions(ctx context.Context, messageID string, reactions []domain.Reaction) error {
	if messageID == "" {
		return domain.ErrInvalidMessageID
	}
	exec := GetExecutor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id = $1`, messageID); err != nil {
		return err
	}
	for _, re := range reactions {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, $4)
		`, messageID, re.UserID, re.Emoji, re.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}
