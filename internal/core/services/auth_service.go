package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	apperrors "nests/pkg/errors"
	"nests/pkg/nostr"
)

// AuthScheme is the Authorization header scheme for NIP-98 tokens.
const AuthScheme = "Nostr"

// DefaultAuthWindow is how far created_at may drift from the server clock.
const DefaultAuthWindow = 60 * time.Second

// RequestAuthenticator verifies NIP-98 HTTP auth events. It keeps no state
// between calls; replays inside the window are accepted.
type RequestAuthenticator struct {
	window  time.Duration
	metrics ports.Metrics
	now     func() time.Time
}

func NewRequestAuthenticator(window time.Duration, metrics ports.Metrics) *RequestAuthenticator {
	if window <= 0 {
		window = DefaultAuthWindow
	}
	return &RequestAuthenticator{
		window:  window,
		metrics: metrics,
		now:     time.Now,
	}
}

// AuthenticateHeader extracts the token from an Authorization header value
// and verifies it.
func (a *RequestAuthenticator) AuthenticateHeader(header, method, path string) (domain.Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMissingHeader, "authorization header is required"))
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, AuthScheme) {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "authorization scheme must be Nostr"))
	}
	return a.Authenticate(strings.TrimSpace(token), method, path)
}

// Authenticate verifies a base64 encoded kind 27235 event against the
// request method and path and returns the signer.
func (a *RequestAuthenticator) Authenticate(token, method, path string) (domain.Identity, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token is not base64"))
	}

	var evt nostr.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token is not a nostr event"))
	}
	if evt.Kind != nostr.KindHTTPAuth {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token must be a kind 27235 event"))
	}

	// Compared as bounds so that extreme created_at values cannot wrap.
	now, slack := a.now().Unix(), int64(a.window/time.Second)
	if created := int64(evt.CreatedAt); created < now-slack || created > now+slack {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthExpiredWindow, "token created_at is outside the allowed window"))
	}

	methodTag, ok := nostr.FindTag(evt.Tags, "method")
	if !ok {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token has no method tag"))
	}
	if !strings.EqualFold(methodTag.Value(), method) {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMethodMismatch, "token method does not match request"))
	}

	urlTag, ok := nostr.FindTag(evt.Tags, "u")
	if !ok {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token has no u tag"))
	}
	tagURL, err := url.Parse(urlTag.Value())
	if err != nil {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token u tag is not a url"))
	}
	if tagURL.Path != path {
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthPathMismatch, "token url does not match request path"))
	}

	if err := nostr.Verify(&evt); err != nil {
		if errors.Is(err, nostr.ErrInvalidPubkey) {
			return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthMalformed, "token pubkey is invalid"))
		}
		return "", a.fail(apperrors.NewAuthError(apperrors.ErrCodeAuthBadSignature, "token signature is invalid"))
	}

	return domain.Identity(evt.PubKey), nil
}

func (a *RequestAuthenticator) fail(err *apperrors.AppError) error {
	if a.metrics != nil {
		a.metrics.RecordAuthFailure(string(err.Code))
	}
	return err
}

func decodeToken(token string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err == nil {
		return raw, nil
	}
	return base64.RawStdEncoding.DecodeString(token)
}
