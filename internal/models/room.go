// internal/models/room.go
package models

import "time"

// AnyLiveID lists rooms for every song when passed as a live_id filter.
const AnyLiveID int64 = 0

// LiveDifficulty is the difficulty a member picked for the song.
type LiveDifficulty int

const (
	DifficultyNormal LiveDifficulty = 1
	DifficultyHard   LiveDifficulty = 2
)

// Valid reports whether d is one of the known wire values.
func (d LiveDifficulty) Valid() bool {
	return d == DifficultyNormal || d == DifficultyHard
}

// JoinRoomResult is the outcome of a join attempt. Values are part of the API.
type JoinRoomResult int

const (
	JoinOk         JoinRoomResult = 1
	JoinRoomFull   JoinRoomResult = 2
	JoinDisbanded  JoinRoomResult = 3
	JoinOtherError JoinRoomResult = 4
)

func (r JoinRoomResult) String() string {
	switch r {
	case JoinOk:
		return "ok"
	case JoinRoomFull:
		return "room_full"
	case JoinDisbanded:
		return "disbanded"
	case JoinOtherError:
		return "other_error"
	}
	return "unknown"
}

// WaitRoomStatus is the lifecycle state of a room.
type WaitRoomStatus int

const (
	StatusWaiting     WaitRoomStatus = 1
	StatusLiveStart   WaitRoomStatus = 2
	StatusDissolution WaitRoomStatus = 3
)

func (s WaitRoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusLiveStart:
		return "live_start"
	case StatusDissolution:
		return "dissolution"
	}
	return "unknown"
}

// Room is a row in the room table.
type Room struct {
	ID              int64          `json:"room_id"`
	LiveID          int64          `json:"live_id"`
	Status          WaitRoomStatus `json:"status"`
	JoinedUserCount int            `json:"joined_user_count"`
	MaxUserCount    int            `json:"max_user_count"`
	CreatedUserID   int64          `json:"created_user_id"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsFull reports whether no seat is left.
func (r *Room) IsFull() bool {
	return r.JoinedUserCount >= r.MaxUserCount
}

// RoomMember is a row in the room_member table.
type RoomMember struct {
	RoomID           int64          `json:"room_id"`
	UserID           int64          `json:"user_id"`
	SelectDifficulty LiveDifficulty `json:"select_difficulty"`
	IsHost           bool           `json:"is_host"`
}

// RoomInfo is the summary returned by room listing.
type RoomInfo struct {
	RoomID          int64 `json:"room_id"`
	LiveID          int64 `json:"live_id"`
	JoinedUserCount int   `json:"joined_user_count"`
	MaxUserCount    int   `json:"max_user_count"`
}

// RoomUser is one member as seen by a waiting client.
type RoomUser struct {
	UserID           int64          `json:"user_id"`
	Name             string         `json:"name"`
	LeaderCardID     int64          `json:"leader_card_id"`
	SelectDifficulty LiveDifficulty `json:"select_difficulty"`
	IsMe             bool           `json:"is_me"`
	IsHost           bool           `json:"is_host"`
}
