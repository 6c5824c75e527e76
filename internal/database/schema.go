// internal/database/schema.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             BIGSERIAL PRIMARY KEY,
		name           VARCHAR(255) NOT NULL,
		token          VARCHAR(255) NOT NULL UNIQUE,
		leader_card_id BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS room (
		room_id           BIGSERIAL PRIMARY KEY,
		live_id           BIGINT NOT NULL,
		status            SMALLINT NOT NULL DEFAULT 1,
		joined_user_count INT NOT NULL DEFAULT 0,
		max_user_count    INT NOT NULL DEFAULT 4,
		created_user_id   BIGINT NOT NULL REFERENCES users (id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT room_joined_user_count_range
			CHECK (joined_user_count BETWEEN 0 AND max_user_count)
	)`,
	`CREATE INDEX IF NOT EXISTS room_status_live_id_idx ON room (status, live_id)`,
	`CREATE TABLE IF NOT EXISTS room_member (
		room_id           BIGINT NOT NULL REFERENCES room (room_id),
		user_id           BIGINT NOT NULL REFERENCES users (id),
		select_difficulty SMALLINT NOT NULL,
		is_host           BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (room_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS room_event (
		id                BIGSERIAL PRIMARY KEY,
		room_id           BIGINT NOT NULL,
		event_type        VARCHAR(32) NOT NULL,
		user_id           BIGINT,
		status            SMALLINT NOT NULL,
		joined_user_count INT NOT NULL,
		occurred_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS room_event_room_id_idx ON room_event (room_id, occurred_at)`,
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
