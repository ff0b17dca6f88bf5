// Package postgres provides the PostgreSQL-backed [persist.RemoteStore].
//
// One [Store] holds a single [pgxpool.Pool]. Session access is scoped to a
// user through [Store.Sessions], which returns a [SessionStore] that only sees
// that user's rows. The document itself is stored as JSONB in editor_state.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	sessions := store.Sessions(userID)
//	meta, err := sessions.Save(ctx, doc.ID, doc, "2026-05-04 - Morning pages")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS journal_sessions (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    name          TEXT         NOT NULL DEFAULT '',
    editor_state  JSONB        NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journal_sessions_user_updated
    ON journal_sessions (user_id, updated_at DESC);
`

// Migrate creates the journal_sessions table and its index. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
