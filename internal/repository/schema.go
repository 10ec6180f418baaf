package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		last_login_at TIMESTAMPTZ,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location    TEXT NOT NULL DEFAULT '',
		starts_at   TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invitations (
		invite_code TEXT PRIMARY KEY,
		event_id    TEXT NOT NULL,
		created_by  TEXT NOT NULL,
		invite_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		uses_left   BIGINT NOT NULL CHECK (uses_left >= 0),
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_participants (
		event_id    TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		user_name   TEXT NOT NULL,
		user_email  TEXT NOT NULL,
		joined_at   TIMESTAMPTZ NOT NULL,
		invited_via TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (event_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS event_participants_event_idx ON event_participants (event_id)`,
}

// EnsureSchema creates missing tables on startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
