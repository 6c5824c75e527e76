// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTicketTTL is how long a room stream ticket stays valid.
const DefaultTicketTTL = time.Minute

// ErrInvalidTicket is returned for any ticket that fails verification.
var ErrInvalidTicket = errors.New("invalid room ticket")

// Signer issues and verifies short-lived room stream tickets.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration

	// now is swapped in tests.
	now func() time.Time
}

// roomClaims carries the ticket holder in sub and the room in room_id.
type roomClaims struct {
	RoomID int64 `json:"room_id"`
	jwt.RegisteredClaims
}

// NewSigner generates a fresh ed25519 key pair at runtime.
func NewSigner(ttl time.Duration) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return newSigner(priv, pub, ttl), nil
}

// NewSignerFromPath reads raw ed25519 private/public keys from file.
func NewSignerFromPath(privatePath, publicPath string, ttl time.Duration) (*Signer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(privateKeyData), ed25519.PrivateKeySize)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicKeyData), ed25519.PublicKeySize)
	}
	return newSigner(ed25519.PrivateKey(privateKeyData), ed25519.PublicKey(publicKeyData), ttl), nil
}

func newSigner(priv ed25519.PrivateKey, pub ed25519.PublicKey, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &Signer{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}
}

// IssueRoomTicket returns a signed EdDSA JWT that lets userID open the
// stream for roomID until the ticket expires.
func (s *Signer) IssueRoomTicket(userID, roomID int64) (string, error) {
	now := s.now()
	claims := roomClaims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.privateKey)
}

// VerifyRoomTicket checks the signature and expiry of a ticket and returns
// the user and room it was issued for.
func (s *Signer) VerifyRoomTicket(ticket string) (userID, roomID int64, err error) {
	var claims roomClaims
	_, err = jwt.ParseWithClaims(ticket, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	userID, err = strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad sub %q", ErrInvalidTicket, claims.Subject)
	}
	if claims.RoomID == 0 {
		return 0, 0, fmt.Errorf("%w: missing room_id", ErrInvalidTicket)
	}
	return userID, claims.RoomID, nil
}
