package services

import (
	"encoding/json"
	"fmt"
	"time"

	"nests/internal/core/domain"
	"nests/pkg/utils"

	"github.com/livekit/protocol/auth"
)

type tokenMetadata struct {
	Role domain.Role `json:"role"`
}

// TokenIssuer signs LiveKit access tokens and decides which role they carry.
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenIssuer returns an issuer whose tokens expire after ttl, which
// should track the room's empty timeout.
func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
		now:       time.Now,
	}
}

// RoleFor picks the effective role of identity in room. Direct directory
// grants win over the event-derived resolution.
func (t *TokenIssuer) RoleFor(room *domain.Room, identity domain.Identity, res domain.Resolution) domain.ResolvedRole {
	switch {
	case room.IsOwner(identity):
		return domain.ResolvedRole{Role: domain.RoleHost, Source: "owner", Resolution: res}
	case room.IsAdmin(identity):
		return domain.ResolvedRole{Role: domain.RoleAdmin, Source: "directory", Resolution: res}
	case room.IsSpeaker(identity):
		return domain.ResolvedRole{Role: domain.RoleSpeaker, Source: "directory", Resolution: res}
	case res.ActivePermission:
		return domain.ResolvedRole{Role: domain.RoleSpeaker, Source: "events", Resolution: res}
	}
	return domain.ResolvedRole{Role: domain.RoleListener, Source: "default", Resolution: res}
}

// Issue signs a token for identity in room with the capabilities of role.
func (t *TokenIssuer) Issue(room domain.RoomID, identity domain.Identity, role domain.Role) (*domain.SessionToken, error) {
	caps := domain.CapabilitiesFor(role)
	expires := t.now().Add(t.ttl)

	meta, err := json.Marshal(tokenMetadata{Role: role})
	if err != nil {
		return nil, fmt.Errorf("encode token metadata: %w", err)
	}

	grant := &auth.VideoGrant{
		RoomJoin:   true,
		Room:       string(room),
		RoomAdmin:  caps.IsAdmin,
		RoomRecord: caps.CanRecord,
	}
	grant.SetCanPublish(caps.CanPublish)
	grant.SetCanSubscribe(caps.CanSubscribe)
	grant.SetCanPublishData(caps.CanPublish)

	signed, err := auth.NewAccessToken(t.apiKey, t.apiSecret).
		SetVideoGrant(grant).
		SetIdentity(string(identity)).
		SetName(string(identity)).
		SetMetadata(string(meta)).
		SetValidFor(t.ttl).
		ToJWT()
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &domain.SessionToken{
		Identity:     identity,
		RoomID:       room,
		Role:         role,
		Capabilities: caps,
		Token:        signed,
		ExpiresAt:    expires,
	}, nil
}

// IssueGuest signs a listen-only token for a fresh anonymous identity.
func (t *TokenIssuer) IssueGuest(room domain.RoomID) (*domain.SessionToken, error) {
	return t.Issue(room, domain.Identity(utils.GenerateGuestIdentity()), domain.RoleGuest)
}
