// internal/handlers/api_server.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/auth"
	"github.com/jason-s-yu/liveroom/internal/events"
	"github.com/jason-s-yu/liveroom/internal/middleware"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/user"
	"github.com/sirupsen/logrus"
)

// APIServer holds the dependencies shared by every handler.
type APIServer struct {
	Users   *user.Directory
	Rooms   *room.Engine
	Events  events.Subscriber
	Tickets *auth.Signer
	Logger  logrus.FieldLogger
}

func NewAPIServer(users *user.Directory, rooms *room.Engine, sub events.Subscriber, tickets *auth.Signer, logger logrus.FieldLogger) *APIServer {
	return &APIServer{
		Users:   users,
		Rooms:   rooms,
		Events:  sub,
		Tickets: tickets,
		Logger:  logger,
	}
}

// Routes registers every endpoint on a new mux wrapped in request logging.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", HealthHandler)

	// user endpoints
	mux.HandleFunc("POST /user/create", CreateUserHandler(s))
	mux.HandleFunc("GET /user/me", UserMeHandler(s))
	mux.HandleFunc("POST /user/update", UpdateUserHandler(s))

	// room endpoints
	mux.HandleFunc("POST /room/create", CreateRoomHandler(s))
	mux.HandleFunc("POST /room/list", ListRoomsHandler(s))
	mux.HandleFunc("POST /room/join", JoinRoomHandler(s))
	mux.HandleFunc("POST /room/wait", WaitRoomHandler(s))
	mux.HandleFunc("POST /room/start", StartLiveHandler(s))
	mux.HandleFunc("POST /room/leave", LeaveRoomHandler(s))
	mux.HandleFunc("POST /room/ticket", RoomTicketHandler(s))

	// room stream
	mux.HandleFunc("GET /room/ws", RoomWSHandler(s))

	return middleware.LogMiddleware(s.Logger)(mux)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
