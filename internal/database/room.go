// internal/database/room.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
)

// InTx runs fn inside a read committed transaction. Row locks taken with
// LockRoom are held until fn returns.
func (s *Store) InTx(ctx context.Context, fn func(tx room.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// ListRooms returns Waiting rooms, optionally filtered by live id.
func (s *Store) ListRooms(ctx context.Context, liveID int64) ([]models.RoomInfo, error) {
	q := `
	SELECT room_id, live_id, joined_user_count, max_user_count
	FROM room
	WHERE status = $1 AND ($2::BIGINT = 0 OR live_id = $2)
	ORDER BY room_id
	`
	rows, err := s.pool.Query(ctx, q, int16(models.StatusWaiting), liveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RoomInfo{}
	for rows.Next() {
		var ri models.RoomInfo
		if err := rows.Scan(&ri.RoomID, &ri.LiveID, &ri.JoinedUserCount, &ri.MaxUserCount); err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Snapshot reads the room row and its members in one repeatable read
// transaction, so the count always matches the member list.
func (s *Store) Snapshot(ctx context.Context, roomID int64) (*room.Snapshot, error) {
	var snap room.Snapshot
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(tx pgx.Tx) error {
		r, err := scanRoom(tx.QueryRow(ctx, selectRoom+` WHERE room_id = $1`, roomID))
		if err != nil {
			return err
		}
		snap.Room = *r

		q := `
		SELECT m.user_id, u.name, u.leader_card_id, m.select_difficulty, m.is_host
		FROM room_member m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.user_id
		`
		rows, err := tx.Query(ctx, q, roomID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m    room.Member
				diff int16
			)
			if err := rows.Scan(&m.UserID, &m.Name, &m.LeaderCardID, &diff, &m.IsHost); err != nil {
				return err
			}
			m.SelectDifficulty = models.LiveDifficulty(diff)
			snap.Members = append(snap.Members, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// StaleRooms lists Waiting rooms created before the cutoff.
func (s *Store) StaleRooms(ctx context.Context, before time.Time) ([]int64, error) {
	q := `SELECT room_id FROM room WHERE status = $1 AND created_at < $2 ORDER BY room_id`
	rows, err := s.pool.Query(ctx, q, int16(models.StatusWaiting), before)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const selectRoom = `
	SELECT room_id, live_id, status, joined_user_count, max_user_count, created_user_id, created_at
	FROM room`

// scanRoom reads one room row, mapping no rows to room.ErrRoomNotFound.
func scanRoom(row pgx.Row) (*models.Room, error) {
	var (
		r      models.Room
		status int16
	)
	err := row.Scan(&r.ID, &r.LiveID, &status, &r.JoinedUserCount, &r.MaxUserCount, &r.CreatedUserID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.WaitRoomStatus(status)
	return &r, nil
}

// pgTx implements room.Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var _ room.Tx = (*pgTx)(nil)

func (t *pgTx) InsertRoom(ctx context.Context, r *models.Room) (int64, error) {
	q := `
	INSERT INTO room (live_id, status, joined_user_count, max_user_count, created_user_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING room_id
	`
	var id int64
	err := t.tx.QueryRow(ctx, q,
		r.LiveID, int16(r.Status), r.JoinedUserCount, r.MaxUserCount, r.CreatedUserID, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// LockRoom reads the room row with FOR UPDATE.
func (t *pgTx) LockRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	return scanRoom(t.tx.QueryRow(ctx, selectRoom+` WHERE room_id = $1 FOR UPDATE`, roomID))
}

func (t *pgTx) GetMember(ctx context.Context, roomID, userID int64) (*models.RoomMember, error) {
	q := `
	SELECT room_id, user_id, select_difficulty, is_host
	FROM room_member
	WHERE room_id = $1 AND user_id = $2
	`
	var (
		m    models.RoomMember
		diff int16
	)
	err := t.tx.QueryRow(ctx, q, roomID, userID).Scan(&m.RoomID, &m.UserID, &diff, &m.IsHost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	m.SelectDifficulty = models.LiveDifficulty(diff)
	return &m, nil
}

func (t *pgTx) InsertMember(ctx context.Context, m models.RoomMember) error {
	q := `
	INSERT INTO room_member (room_id, user_id, select_difficulty, is_host)
	VALUES ($1, $2, $3, $4)
	`
	_, err := t.tx.Exec(ctx, q, m.RoomID, m.UserID, int16(m.SelectDifficulty), m.IsHost)
	if isUniqueViolation(err) {
		return room.ErrAlreadyMember
	}
	return err
}

func (t *pgTx) DeleteMember(ctx context.Context, roomID, userID int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM room_member WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrNotMember
	}
	return nil
}

// AdjustJoined changes the member count only while it stays within
// [0, max_user_count].
func (t *pgTx) AdjustJoined(ctx context.Context, roomID int64, delta int) error {
	q := `
	UPDATE room
	SET joined_user_count = joined_user_count + $2
	WHERE room_id = $1
	  AND joined_user_count + $2 BETWEEN 0 AND max_user_count
	`
	ct, err := t.tx.Exec(ctx, q, roomID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM room WHERE room_id = $1)`, roomID).Scan(&exists); err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !exists {
		return room.ErrRoomNotFound
	}
	return room.ErrCapacity
}

func (t *pgTx) SetStatus(ctx context.Context, roomID int64, status models.WaitRoomStatus) error {
	ct, err := t.tx.Exec(ctx, `UPDATE room SET status = $2 WHERE room_id = $1`, roomID, int16(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}
