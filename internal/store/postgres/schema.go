// Package postgres provides the PostgreSQL-backed implementation of
// [store.Store].
//
// All tables share a single [pgxpool.Pool] connection pool. [Migrate] is
// idempotent and safe to call on every application start.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.InsertSession(ctx, &session)
//	_ = st.InsertFeedback(ctx, &feedback)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT         PRIMARY KEY,
    email       TEXT         NOT NULL UNIQUE,
    first_name  TEXT         NOT NULL DEFAULT '',
    last_name   TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL DEFAULT 'trainee',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);
`

const ddlCallSessions = `
CREATE TABLE IF NOT EXISTS call_sessions (
    id               TEXT         PRIMARY KEY,
    trainee_id       TEXT         NOT NULL,
    scenario         TEXT         NOT NULL DEFAULT '',
    transcript       JSONB        NOT NULL DEFAULT '[]',
    recording_url    TEXT         NOT NULL DEFAULT '',
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_sessions_trainee
    ON call_sessions (trainee_id);

CREATE INDEX IF NOT EXISTS idx_call_sessions_trainee_created
    ON call_sessions (trainee_id, created_at DESC);
`

const ddlCallFeedback = `
CREATE TABLE IF NOT EXISTS call_feedback (
    id               TEXT         PRIMARY KEY,
    call_session_id  TEXT         NOT NULL REFERENCES call_sessions (id) ON DELETE CASCADE,
    scores           JSONB        NOT NULL DEFAULT '{}',
    comments         TEXT         NOT NULL DEFAULT '',
    is_automated     BOOLEAN      NOT NULL DEFAULT false,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_call_feedback_session_kind
    ON call_feedback (call_session_id, is_automated);
`

// Migrate creates or ensures all required database tables and indexes
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF
// NOT EXISTS) and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlCallSessions,
		ddlCallFeedback,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
