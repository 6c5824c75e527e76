// internal/events/events.go
package events

import (
	"context"
	"time"

	"github.com/jason-s-yu/liveroom/internal/models"
)

// Type names a room event.
type Type string

const (
	RoomCreated   Type = "room_created"
	MemberJoined  Type = "member_joined"
	MemberLeft    Type = "member_left"
	LiveStarted   Type = "live_started"
	RoomDissolved Type = "room_dissolved"
)

// Event describes a committed change to one room.
type Event struct {
	Type            Type                  `json:"type"`
	RoomID          int64                 `json:"room_id"`
	UserID          int64                 `json:"user_id,omitempty"`
	Status          models.WaitRoomStatus `json:"status"`
	JoinedUserCount int                   `json:"joined_user_count"`
	At              int64                 `json:"at"`
}

// NewEvent stamps an event with the current time in epoch millis.
func NewEvent(t Type, room *models.Room, userID int64) Event {
	return Event{
		Type:            t,
		RoomID:          room.ID,
		UserID:          userID,
		Status:          room.Status,
		JoinedUserCount: room.JoinedUserCount,
		At:              time.Now().UnixMilli(),
	}
}

// Publisher announces committed room changes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams events for a single room until the returned cancel func
// is called or ctx ends. The channel is closed when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID int64) (<-chan Event, func(), error)
}

// Bus is both ends of the event stream.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
