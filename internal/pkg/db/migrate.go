package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migration is one idempotent schema step.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users table",
		sql: `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	},
	{
		name: "game_statuses reference table",
		sql: `
		CREATE TABLE IF NOT EXISTS game_statuses (
			id SMALLINT PRIMARY KEY,
			name VARCHAR(32) NOT NULL UNIQUE
		);
		INSERT INTO game_statuses (id, name) VALUES
			(1, 'IN_PROGRESS'),
			(2, 'COMPLETED')
		ON CONFLICT DO NOTHING;`,
	},
	{
		name: "game_outcomes reference table",
		sql: `
		CREATE TABLE IF NOT EXISTS game_outcomes (
			id SMALLINT PRIMARY KEY,
			name VARCHAR(32) NOT NULL UNIQUE
		);
		INSERT INTO game_outcomes (id, name) VALUES
			(1, 'SERVER_WIN'),
			(2, 'CLIENT_WIN'),
			(3, 'TIE'),
			(4, 'EXPIRED')
		ON CONFLICT DO NOTHING;`,
	},
	{
		name: "games table",
		sql: `
		CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			status_id SMALLINT NOT NULL REFERENCES game_statuses(id),
			outcome_id SMALLINT REFERENCES game_outcomes(id),
			server_nonce CHAR(64) NOT NULL,
			server_nonce_hash CHAR(64) NOT NULL,
			client_nonce_hash CHAR(64) NOT NULL,
			client_nonce CHAR(64),
			server_roll SMALLINT CHECK (server_roll BETWEEN 1 AND 6),
			client_roll SMALLINT CHECK (client_roll BETWEEN 1 AND 6),
			initiated_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_games_user_completed ON games(user_id, completed_at DESC);`,
	},
}

// Migrate applies the schema and seeds the reference vocabulary.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Info().Int("step", i+1).Str("migration", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
