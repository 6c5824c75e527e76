// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jason-s-yu/liveroom/internal/models"
	"github.com/jason-s-yu/liveroom/internal/room"
	"github.com/jason-s-yu/liveroom/internal/user"
)

// empty is the body of endpoints with nothing to return.
type empty struct{}

// extractBearerToken returns the credential of an "Authorization: Bearer"
// header, or empty if there is none.
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate resolves the request's bearer token. It writes a 401 and
// returns nil when the token is missing or unknown.
func (s *APIServer) authenticate(w http.ResponseWriter, r *http.Request) *models.User {
	token := extractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return nil
	}
	u, err := s.Users.Resolve(r.Context(), token)
	if errors.Is(err, user.ErrUserNotFound) {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return nil
	}
	if err != nil {
		s.Logger.WithError(err).Error("failed to resolve user token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil
	}
	return u
}

// decodeJSON reads the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRoomError maps engine errors onto HTTP statuses.
func (s *APIServer) writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrInvalidDifficulty):
		http.Error(w, "invalid select_difficulty", http.StatusBadRequest)
	case errors.Is(err, room.ErrRoomNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, room.ErrNotHost):
		http.Error(w, "only the host may do this", http.StatusForbidden)
	case errors.Is(err, room.ErrNotMember):
		http.Error(w, "not a member of this room", http.StatusForbidden)
	case errors.Is(err, room.ErrInvalidTransition):
		http.Error(w, "room is not in a state that allows this", http.StatusConflict)
	default:
		s.Logger.WithError(err).Error("room operation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
