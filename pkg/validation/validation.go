package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MinRelays = 1
	MaxRelays = 10
)

var (
	// PubkeyRegex validates a hex-encoded x-only public key
	PubkeyRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// ValidatePubkey validates a 64-character hex pubkey
func ValidatePubkey(pubkey string) error {
	if pubkey == "" {
		return fmt.Errorf("pubkey is required")
	}
	if !PubkeyRegex.MatchString(pubkey) {
		return fmt.Errorf("pubkey must be a 64-character hex string")
	}
	return nil
}

// ValidateRoomID validates that id is a version 4 uuid
func ValidateRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("room ID is required")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid room ID format: %w", err)
	}
	if parsed.Version() != 4 {
		return fmt.Errorf("room ID must be a version 4 uuid")
	}
	return nil
}

// ValidateRelayURL validates a websocket relay URL
func ValidateRelayURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid relay URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relays must be valid WebSocket URLs")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

// ValidateRelays validates the relay list of a create call
func ValidateRelays(relays []string) error {
	if len(relays) < MinRelays {
		return fmt.Errorf("at least one relay is required")
	}
	if len(relays) > MaxRelays {
		return fmt.Errorf("maximum %d relays allowed", MaxRelays)
	}
	for _, r := range relays {
		if err := ValidateRelayURL(strings.TrimSpace(r)); err != nil {
			return err
		}
	}
	return nil
}
