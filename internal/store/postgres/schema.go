// Package postgres provides the PostgreSQL-backed [store.MessageLog].
//
// Usage:
//
//	log, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer log.Close()
//
//	_ = log.Append(ctx, sessionID, userID, msg)
//	msgs, _ := log.List(ctx, sessionID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlMessages = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    user_id     TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
    ON conversation_messages (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_user
    ON conversation_messages (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_fts
    ON conversation_messages USING GIN (to_tsvector('simple', text));
`

// Migrate creates the message table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMessages); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
