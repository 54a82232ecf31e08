package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePubkey(t *testing.T) {
	tests := []struct {
		name    string
		pubkey  string
		wantErr bool
	}{
		{"lowercase hex", strings.Repeat("ab", 32), false},
		{"uppercase hex", strings.Repeat("AB", 32), false},
		{"empty", "", true},
		{"too short", strings.Repeat("a", 63), true},
		{"non hex", strings.Repeat("z", 64), true},
		{"npub", "npub1xyz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePubkey(tt.pubkey)
			assert.Equal(t, tt.wantErr, err != nil, "ValidatePubkey() error = %v", err)
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"v4", "3f1c2a5e-8b7d-4c1e-9f2a-6d5b4c3a2e1f", false},
		{"v1", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"garbage", "not-a-uuid", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.id)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateRoomID() error = %v", err)
		})
	}
}

func TestValidateRelays(t *testing.T) {
	tooMany := make([]string, MaxRelays+1)
	for i := range tooMany {
		tooMany[i] = "wss://relay.example.com"
	}

	tests := []struct {
		name    string
		relays  []string
		wantErr bool
	}{
		{"single wss", []string{"wss://relay.damus.io"}, false},
		{"ws and wss", []string{"ws://localhost:7777", "wss://nos.lol"}, false},
		{"empty list", nil, true},
		{"https scheme", []string{"https://relay.damus.io"}, true},
		{"missing host", []string{"wss://"}, true},
		{"too many", tooMany, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelays(tt.relays)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateRelays() error = %v", err)
		})
	}
}
