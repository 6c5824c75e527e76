// internal/database/event.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/liveroom/internal/events"
)

// SaveEvents appends a batch of room events to room_event in one transaction.
func (s *Store) SaveEvents(ctx context.Context, evs []events.Event) error {
	q := `
	INSERT INTO room_event (room_id, event_type, user_id, status, joined_user_count, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range evs {
			var userID *int64
			if ev.UserID != 0 {
				userID = &ev.UserID
			}
			batch.Queue(q, ev.RoomID, string(ev.Type), userID, int16(ev.Status), ev.JoinedUserCount, time.UnixMilli(ev.At))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert room events: %w", err)
		}
		return nil
	})
}
