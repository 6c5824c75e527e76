// internal/models/user.go
package models

// User is a registered player. The token is never serialized back to clients.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	LeaderCardID int64  `json:"leader_card_id"`
	Token        string `json:"-"`
}
