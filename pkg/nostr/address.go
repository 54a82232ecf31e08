package nostr

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Address points at a parameterized replaceable event, e.g. an audio room
// "30312:<host pubkey>:<room id>".
type Address struct {
	Kind       int
	Pubkey     string
	Identifier string
	Relays     []string
}

// RoomAddress returns the address of the audio room hosted by pubkey.
func RoomAddress(pubkey, roomID string) Address {
	return Address{Kind: KindAudioRoom, Pubkey: pubkey, Identifier: roomID}
}

// String renders the "kind:pubkey:identifier" coordinate used in a tags.
func (a Address) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.Pubkey, a.Identifier)
}

// ParseAddress accepts either a coordinate or a bech32 naddr.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "naddr1") {
		return DecodeNaddr(s)
	}

	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("address %q is not kind:pubkey:identifier", s)
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("address kind: %w", err)
	}
	return Address{Kind: kind, Pubkey: strings.ToLower(parts[1]), Identifier: parts[2]}, nil
}

// EncodeNaddr renders a as a NIP-19 naddr string.
func EncodeNaddr(a Address) (string, error) {
	if author, err := hex.DecodeString(a.Pubkey); err != nil || len(author) != 32 {
		return "", fmt.Errorf("naddr author must be 32 hex bytes")
	}
	return nip19.EncodeEntity(a.Pubkey, a.Kind, a.Identifier, a.Relays)
}

// DecodeNaddr parses a NIP-19 naddr string.
func DecodeNaddr(s string) (Address, error) {
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("naddr decode: %w", err)
	}
	ptr, ok := value.(gonostr.EntityPointer)
	if prefix != "naddr" || !ok {
		return Address{}, fmt.Errorf("unexpected bech32 prefix %q", prefix)
	}
	return Address{Kind: ptr.Kind, Pubkey: ptr.PublicKey, Identifier: ptr.Identifier, Relays: ptr.Relays}, nil
}
