// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the room stream.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidRoomIDError  = 3003 // Room named by the ticket no longer exists.
	NotMemberError      = 3004 // Ticket holder is no longer a member of the room.
)
