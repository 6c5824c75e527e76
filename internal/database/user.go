// internal/database/user.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/user"
)

// Insert adds a user row and returns its id. A token collision is reported
// as user.ErrTokenTaken.
func (s *Store) Insert(ctx context.Context, u *models.User) (int64, error) {
	q := `INSERT INTO users (name, token, leader_card_id)
	      VALUES ($1, $2, $3)
	      RETURNING id`

	var id int64
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, u.Name, u.Token, u.LeaderCardID).Scan(&id)
	})
	if isUniqueViolation(err) {
		return 0, user.ErrTokenTaken
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

func (s *Store) GetByToken(ctx context.Context, token string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, name, leader_card_id, token
	FROM users
	WHERE token=$1
	`
	err := s.pool.QueryRow(ctx, q, token).Scan(&u.ID, &u.Name, &u.LeaderCardID, &u.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateByToken sets name and leader_card_id for the token's user.
func (s *Store) UpdateByToken(ctx context.Context, token, name string, leaderCardID int64) error {
	q := `UPDATE users SET name = $1, leader_card_id = $2 WHERE token = $3`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, q, name, leaderCardID, token)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return user.ErrUserNotFound
		}
		return nil
	})
}
