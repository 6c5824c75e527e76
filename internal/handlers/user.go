// internal/handlers/user.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/liveroom/internal/user"
)

type userRequest struct {
	UserName     string `json:"user_name"`
	LeaderCardID int64  `json:"leader_card_id"`
}

type userCreateResponse struct {
	UserToken string `json:"user_token"`
}

// CreateUserHandler registers a new user and returns its opaque token.
//
// Request payload:
//
//	{
//	  "user_name": "alice",
//	  "leader_card_id": 1000
//	}
//
// Response payload:
//
//	{
//	  "user_token": "{uuid}"
//	}
func CreateUserHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token, err := s.Users.Create(r.Context(), req.UserName, req.LeaderCardID)
		if err != nil {
			s.Logger.WithError(err).Error("failed to create user")
			http.Error(w, "error creating user", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, userCreateResponse{UserToken: token})
	}
}

// UserMeHandler returns the caller's public profile. An unknown token is a 404.
func UserMeHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		u, err := s.Users.Resolve(r.Context(), token)
		if errors.Is(err, user.ErrUserNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.Logger.WithError(err).Error("failed to resolve user token")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// UpdateUserHandler changes the caller's name and leader card.
func UpdateUserHandler(s *APIServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		var req userRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err := s.Users.Update(r.Context(), token, req.UserName, req.LeaderCardID)
		if errors.Is(err, user.ErrUserNotFound) {
			http.Error(w, "invalid credential", http.StatusUnauthorized)
			return
		}
		if err != nil {
			s.Logger.WithError(err).Error("failed to update user")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, empty{})
	}
}
