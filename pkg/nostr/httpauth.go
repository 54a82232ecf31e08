package nostr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NewAuthEvent builds and signs a NIP-98 event for method and url.
func NewAuthEvent(key *btcec.PrivateKey, method, url string, createdAt time.Time) (*Event, error) {
	evt := &Event{
		CreatedAt: Timestamp(createdAt.Unix()),
		Kind:      KindHTTPAuth,
		Tags: Tags{
			{"u", url},
			{"method", strings.ToUpper(method)},
		},
	}
	if err := Sign(evt, key); err != nil {
		return nil, err
	}
	return evt, nil
}

// EncodeAuthEvent renders evt as an Authorization header value.
func EncodeAuthEvent(evt *Event) (string, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode auth event: %w", err)
	}
	return "Nostr " + base64.StdEncoding.EncodeToString(raw), nil
}

// AuthHeader signs a fresh NIP-98 event and returns the header value.
func AuthHeader(key *btcec.PrivateKey, method, url string, now time.Time) (string, error) {
	evt, err := NewAuthEvent(key, method, url, now)
	if err != nil {
		return "", err
	}
	return EncodeAuthEvent(evt)
}
