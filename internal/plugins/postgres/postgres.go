package postgres

import (
	"chatrelay/internal/config"
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

/*
	CREATE TABLE users (
		id              TEXT PRIMARY KEY,
		username        TEXT NOT NULL,
		profile_picture TEXT NOT NULL DEFAULT '',
		is_online       BOOLEAN NOT NULL DEFAULT false,
		last_seen       TIMESTAMPTZ
	);

	-- participant_a < participant_b, so a pair maps to exactly one row
	CREATE TABLE conversations (
		id              UUID PRIMARY KEY,
		participant_a   TEXT NOT NULL REFERENCES users(id),
		participant_b   TEXT NOT NULL REFERENCES users(id),
		last_message_id UUID,
		unread_count    INTEGER NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (participant_a, participant_b)
	);

	CREATE TABLE messages (
		id              UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		sender_id       TEXT NOT NULL,
		receiver_id     TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		media_url       TEXT NOT NULL DEFAULT '',
		content_type    TEXT NOT NULL,
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE message_reactions (
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		emoji      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);
*/

func New(ctx context.Context, cfg *config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Pool tuning
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	// Health check
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
