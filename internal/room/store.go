// internal/room/store.go
package room

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
)

var (
	// ErrRoomNotFound means no room row exists for the id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAlreadyMember is returned by Tx.InsertMember for a duplicate (room, user) pair.
	ErrAlreadyMember = errors.New("user already joined the room")
	// ErrNotMember means the user has no membership row in the room.
	ErrNotMember = errors.New("user is not a member of the room")
	// ErrCapacity is returned by Tx.AdjustJoined when the count would leave [0, max].
	ErrCapacity = errors.New("joined user count out of range")
	// ErrNotHost means the operation is reserved for the room's creator.
	ErrNotHost = errors.New("user is not the room host")
	// ErrInvalidTransition means the room's status does not allow the change.
	ErrInvalidTransition = errors.New("invalid room status transition")
)

// Member is a membership row joined with the member's user record.
type Member struct {
	UserID           int64
	Name             string
	LeaderCardID     int64
	SelectDifficulty models.LiveDifficulty
	IsHost           bool
}

// Snapshot is a room and its members read from a single committed state.
type Snapshot struct {
	Room    models.Room
	Members []Member
}

// Tx is one all-or-nothing unit of work against the room and room_member
// tables. Nothing written through a Tx is visible to other readers until
// the surrounding Store.InTx call returns nil.
type Tx interface {
	// InsertRoom stores r and returns its generated id. r.ID is ignored.
	InsertRoom(ctx context.Context, r *models.Room) (int64, error)
	// LockRoom reads the room row and holds it exclusively until the
	// transaction ends. Returns ErrRoomNotFound if absent.
	LockRoom(ctx context.Context, roomID int64) (*models.Room, error)
	// GetMember returns ErrNotMember if the pair has no row.
	GetMember(ctx context.Context, roomID, userID int64) (*models.RoomMember, error)
	// InsertMember returns ErrAlreadyMember on a duplicate pair.
	InsertMember(ctx context.Context, m models.RoomMember) error
	// DeleteMember returns ErrNotMember if nothing was deleted.
	DeleteMember(ctx context.Context, roomID, userID int64) error
	// AdjustJoined adds delta to joined_user_count iff the result stays
	// within [0, max_user_count], otherwise returns ErrCapacity.
	AdjustJoined(ctx context.Context, roomID int64, delta int) error
	SetStatus(ctx context.Context, roomID int64, status models.WaitRoomStatus) error
}

// Store owns the durable room state. Implementations live in
// internal/database (Postgres) and internal/memory.
type Store interface {
	// InTx runs fn in a transaction, committing iff fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// ListRooms returns Waiting rooms for liveID (models.AnyLiveID for all),
	// ordered by room id.
	ListRooms(ctx context.Context, liveID int64) ([]models.RoomInfo, error)
	// Snapshot returns ErrRoomNotFound if the room does not exist.
	Snapshot(ctx context.Context, roomID int64) (*Snapshot, error)
	// StaleRooms lists Waiting rooms created before the cutoff.
	StaleRooms(ctx context.Context, before time.Time) ([]int64, error)
}
