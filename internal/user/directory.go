// internal/user/directory.go
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUserNotFound means no user owns the token.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenTaken is returned by Store.Insert when the token collides.
	ErrTokenTaken = errors.New("user token already in use")
)

// tokenAttempts is how many fresh tokens Create tries before giving up.
const tokenAttempts = 3

// Store persists users keyed by id and by token.
type Store interface {
	// Insert stores u and returns the generated id. u.ID is ignored.
	Insert(ctx context.Context, u *models.User) (int64, error)
	GetByToken(ctx context.Context, token string) (*models.User, error)
	// UpdateByToken returns ErrUserNotFound when no row matched.
	UpdateByToken(ctx context.Context, token, name string, leaderCardID int64) error
}

// Directory issues opaque tokens and resolves them back to users.
type Directory struct {
	store Store
	log   logrus.FieldLogger

	newToken func() string
}

// NewDirectory returns a directory backed by store.
func NewDirectory(store Store, logger logrus.FieldLogger) *Directory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Directory{
		store:    store,
		log:      logger,
		newToken: uuid.NewString,
	}
}

// Create registers a user and returns its token. A token collision is
// retried with a new token.
func (d *Directory) Create(ctx context.Context, name string, leaderCardID int64) (string, error) {
	var lastErr error
	for i := 0; i < tokenAttempts; i++ {
		u := &models.User{
			Name:         name,
			LeaderCardID: leaderCardID,
			Token:        d.newToken(),
		}
		id, err := d.store.Insert(ctx, u)
		if errors.Is(err, ErrTokenTaken) {
			d.log.WithField("attempt", i+1).Warn("user token collision, retrying")
			lastErr = err
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to insert user: %w", err)
		}
		d.log.WithField("user_id", id).Info("user created")
		return u.Token, nil
	}
	return "", fmt.Errorf("failed to allocate user token: %w", lastErr)
}

// Resolve maps a token to its user, or ErrUserNotFound.
func (d *Directory) Resolve(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	u, err := d.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Update changes the mutable attributes of the token's user.
func (d *Directory) Update(ctx context.Context, token, name string, leaderCardID int64) error {
	if token == "" {
		return ErrUserNotFound
	}
	return d.store.UpdateByToken(ctx, token, name, leaderCardID)
}
