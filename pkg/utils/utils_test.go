package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoomID(t *testing.T) {
	id := GenerateRoomID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestGenerateGuestIdentity_FreshPerCall(t *testing.T) {
	a := GenerateGuestIdentity()
	b := GenerateGuestIdentity()

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, GuestPrefix))
}

func TestGenerateRequestID(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
}

func TestSanitizeLogString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "hello", "hello"},
		{"crlf injection", "abc\r\nINFO forged", "abc INFO forged"},
		{"nul byte", "a\x00b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeLogString(tt.input))
		})
	}

	long := strings.Repeat("x", 1000)
	assert.Len(t, SanitizeLogString(long), maxLogStringLength)
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string", "hello", 10, "hello"},
		{"long string", "hello world", 5, "he..."},
		{"very short max", "hello", 2, "he"},
		{"exact length", "hello", 5, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateString(tt.input, tt.maxLen))
		})
	}
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "abcdef01", ShortKey("abcdef0123456789"))
	assert.Equal(t, "abc", ShortKey("abc"))
}
