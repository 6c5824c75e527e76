// internal/handlers/room.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/samber/lo"
)

type roomCreateRequest struct {
	LiveID           int64                 `json:"live_id"`
	SelectDifficulty models.LiveDifficulty `json:"select_difficulty"`
}

type roomIDRequest struct {
	RoomID int64 `json:"room_id"`
}

type roomJoinRequest struct {
	RoomID           int64                 `json:"room_id"`
	SelectDifficulty models.LiveDifficulty `json:"select_difficulty"`
}

type roomListRequest struct {
	LiveID int64 `json:"live_id"`
}

type roomCreateResponse struct {
	RoomID int64 `json:"room_id"`
}

type roomListResponse struct {
	RoomInfoList []models.RoomInfo `json:"room_info_list"`
}

type roomJoinResponse struct {
	JoinRoomResult models.JoinRoomResult `json:"join_room_result"`
}

type roomWaitResponse struct {
	Status       models.WaitRoomStatus `json:"status"`
	RoomUserList []models.RoomUser     `json:"room_user_list"`
}

type roomTicketResponse struct {
	Ticket string `json:"ticket"`
}

// CreateRoomHandler opens a Waiting room for live_id with the caller as host.
func CreateRoomHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomCreateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		roomID, err := s.Rooms.CreateRoom(r.Context(), u, req.LiveID, req.SelectDifficulty)
		if err != nil {
			s.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roomCreateResponse{RoomID: roomID})
	}
}

// ListRoomsHandler lists joinable rooms. live_id 0 lists rooms for every song.
func ListRoomsHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authenticate(w, r) == nil {
			return
		}
		var req roomListRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		rooms, err := s.Rooms.ListRooms(r.Context(), req.LiveID)
		if err != nil {
			s.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roomListResponse{RoomInfoList: rooms})
	}
}

// JoinRoomHandler reports Ok, RoomFull, Disbanded or OtherError. Only a
// malformed request is an HTTP error; storage failures come back as
// OtherError.
func JoinRoomHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomJoinRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result, err := s.Rooms.JoinRoom(r.Context(), u, req.RoomID, req.SelectDifficulty)
		if errors.Is(err, room.ErrInvalidDifficulty) {
			s.writeRoomError(w, err)
			return
		}
		if err != nil {
			s.Logger.WithError(err).WithField("room_id", req.RoomID).Error("join failed")
		}
		writeJSON(w, http.StatusOK, roomJoinResponse{JoinRoomResult: result})
	}
}

// WaitRoomHandler returns the room status and member list. An unknown room
// yields a JSON null body.
func WaitRoomHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomIDRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		status, users, err := s.Rooms.WaitRoom(r.Context(), u, req.RoomID)
		if errors.Is(err, room.ErrRoomNotFound) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		if err != nil {
			s.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, roomWaitResponse{Status: status, RoomUserList: users})
	}
}

// StartLiveHandler lets the host move the room to LiveStart.
func StartLiveHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomIDRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.Rooms.StartLive(r.Context(), u, req.RoomID); err != nil {
			s.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, empty{})
	}
}

// LeaveRoomHandler removes the caller from the room; the host leaving
// dissolves it.
func LeaveRoomHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomIDRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.Rooms.LeaveRoom(r.Context(), u, req.RoomID); err != nil {
			s.writeRoomError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, empty{})
	}
}

// RoomTicketHandler issues a short-lived ticket for /room/ws. Only members
// of the room get one.
func RoomTicketHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := s.authenticate(w, r)
		if u == nil {
			return
		}
		var req roomIDRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		_, users, err := s.Rooms.WaitRoom(r.Context(), u, req.RoomID)
		if err != nil {
			s.writeRoomError(w, err)
			return
		}
		if !lo.ContainsBy(users, func(ru models.RoomUser) bool { return ru.IsMe }) {
			s.writeRoomError(w, room.ErrNotMember)
			return
		}
		ticket, err := s.Tickets.IssueRoomTicket(u.ID, req.RoomID)
		if err != nil {
			s.Logger.WithError(err).Error("failed to sign room ticket")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, roomTicketResponse{Ticket: ticket})
	}
}
