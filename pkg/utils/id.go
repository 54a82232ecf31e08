package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GuestPrefix marks identities minted for anonymous listeners.
const GuestPrefix = "guest-"

// GenerateRoomID returns a fresh uuid v4 room id.
func GenerateRoomID() string {
	return uuid.NewString()
}

// GenerateGuestIdentity returns a new identity for every call. Guests are
// never stable across joins.
func GenerateGuestIdentity() string {
	return GuestPrefix + uuid.NewString()
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", Now().UnixNano(), hex.EncodeToString(b))
}
