// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/middleware"
	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// roomSubprotocol is the only subprotocol the room stream speaks.
const roomSubprotocol = "liveroom"

const wsWriteTimeout = 5 * time.Second

// roomSnapshotMessage is pushed on connect and after every room event.
type roomSnapshotMessage struct {
	Type         string                `json:"type"`
	Event        events.Type           `json:"event,omitempty"`
	Status       models.WaitRoomStatus `json:"status"`
	RoomUserList []models.RoomUser     `json:"room_user_list"`
}

// RoomWSHandler streams wait-room snapshots for the room named by the
// ticket query parameter. The stream ends after the Dissolution snapshot,
// or with NotMemberError once the ticket holder has left the room.
func RoomWSHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, roomID, err := s.Tickets.VerifyRoomTicket(r.URL.Query().Get("ticket"))
		if err != nil {
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}
		log := s.Logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID})

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// subscribe before the first snapshot so no change is missed
		evs, unsubscribe, err := s.Events.Subscribe(ctx, roomID)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to room events")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer unsubscribe()

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{roomSubprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != roomSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the liveroom subprotocol")
			return
		}

		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)
		err = s.streamRoom(c.CloseRead(ctx), c, &models.User{ID: userID}, roomID, evs)
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)

		switch {
		case err == nil:
			c.Close(websocket.StatusNormalClosure, "room dissolved")
		case errors.Is(err, room.ErrRoomNotFound):
			c.Close(InvalidRoomIDError, "room does not exist")
		case errors.Is(err, errLeftRoom):
			c.Close(NotMemberError, "no longer a member of the room")
		case errors.Is(err, errBusClosed):
			c.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}

var (
	errBusClosed = errors.New("event subscription closed")
	errLeftRoom  = errors.New("user left the room")
)

// streamRoom writes a snapshot now and after every event. It returns nil
// once a Dissolution snapshot has been sent and errLeftRoom as soon as u is
// missing from the member list.
func (s *APIServer) streamRoom(ctx context.Context, c *websocket.Conn, u *models.User, roomID int64, evs <-chan events.Event) error {
	var cause events.Type
	for {
		status, users, err := s.Rooms.WaitRoom(ctx, u, roomID)
		if err != nil {
			return err
		}
		if !lo.ContainsBy(users, func(ru models.RoomUser) bool { return ru.IsMe }) {
			return errLeftRoom
		}
		msg := roomSnapshotMessage{
			Type:         "wait_snapshot",
			Event:        cause,
			Status:       status,
			RoomUserList: users,
		}
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err = wsjson.Write(wctx, c, msg)
		cancel()
		if err != nil {
			return err
		}
		if status == models.StatusDissolution {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				return errBusClosed
			}
			cause = ev.Type
		}
	}
}
