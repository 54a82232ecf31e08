// Package nostr holds the nests-specific layer over go-nostr: event kinds,
// NIP-98 auth headers, signature checks and audio room addresses.
package nostr

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	gonostr "github.com/nbd-wtf/go-nostr"
)

const (
	KindHTTPAuth           = 27235
	KindSpeakingRequest    = 1833
	KindSpeakingPermission = 3979
	KindSpeakingInvitation = 7051
	KindAudioRoom          = 30312
)

var (
	ErrInvalidID        = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrInvalidPubkey    = errors.New("invalid event pubkey")
)

type (
	Event     = gonostr.Event
	Tag       = gonostr.Tag
	Tags      = gonostr.Tags
	Timestamp = gonostr.Timestamp
)

// FindTag returns the first tag named key that carries a value.
func FindTag(tags Tags, key string) (Tag, bool) {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == key {
			return t, true
		}
	}
	return nil, false
}

// TagValue returns the value of the first tag named key, or "".
func TagValue(tags Tags, key string) string {
	if t, ok := FindTag(tags, key); ok {
		return t[1]
	}
	return ""
}

// ParseEvent decodes a JSON event and checks that the fields every event
// must carry are present. It does not verify the signature.
func ParseEvent(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if evt.ID == "" || evt.PubKey == "" || evt.Sig == "" {
		return nil, fmt.Errorf("event is missing id, pubkey or sig")
	}
	if evt.CreatedAt <= 0 {
		return nil, fmt.Errorf("event is missing created_at")
	}
	return &evt, nil
}

// Verify checks that the id commits to the event content and that the
// signature is a valid BIP-340 signature of it by the pubkey.
func Verify(evt *Event) error {
	if evt.GetID() != evt.ID {
		return ErrInvalidID
	}
	pk, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(pk) != schnorr.PubKeyBytesLen {
		return ErrInvalidPubkey
	}
	if _, err := schnorr.ParsePubKey(pk); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	ok, err := evt.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// Sign fills the pubkey, id and signature of evt using key.
func Sign(evt *Event, key *btcec.PrivateKey) error {
	if err := evt.Sign(hex.EncodeToString(key.Serialize())); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

// PublicKeyHex returns the x-only hex pubkey of key.
func PublicKeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(key.PubKey()))
}
