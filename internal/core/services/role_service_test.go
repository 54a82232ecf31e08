package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"nests/internal/core/domain"
	apperrors "nests/pkg/errors"
	"nests/pkg/nostr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRoleService_RequestGrantRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := newKey(t)
	listener := newKey(t)
	id := env.createRoom(t, owner.pubkey)
	now := time.Now()

	request := roleEvent(t, listener, owner.pubkey, id, nostr.KindSpeakingRequest, "requested", "", now)
	evt, stored, err := env.roles.Ingest(ctx, id, request)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, domain.KindRequest, evt.Kind)

	role, err := env.roles.EffectiveRole(ctx, id, listener.pubkey)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleListener, role.Role)
	assert.True(t, role.Resolution.Pending)

	grant := roleEvent(t, owner, owner.pubkey, id, nostr.KindSpeakingPermission, "granted", listener.pubkey, now.Add(time.Second))
	_, stored, err = env.roles.Ingest(ctx, id, grant)
	require.NoError(t, err)
	assert.True(t, stored)

	role, err = env.roles.EffectiveRole(ctx, id, listener.pubkey)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSpeaker, role.Role)
	assert.Equal(t, "events", role.Source)
	assert.False(t, role.Resolution.Pending)

	// Re-sending the same event is a no-op.
	_, stored, err = env.roles.Ingest(ctx, id, grant)
	require.NoError(t, err)
	assert.False(t, stored)

	revoke := roleEvent(t, owner, owner.pubkey, id, nostr.KindSpeakingPermission, "revoked", listener.pubkey, now.Add(2*time.Second))
	_, _, err = env.roles.Ingest(ctx, id, revoke)
	require.NoError(t, err)

	role, err = env.roles.EffectiveRole(ctx, id, listener.pubkey)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleListener, role.Role)
}

func TestRoleService_Authorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := newKey(t)
	stranger := newKey(t)
	victim := newKey(t)
	id := env.createRoom(t, owner.pubkey)
	now := time.Now()

	tests := []struct {
		name   string
		evt    *nostr.Event
		code   apperrors.ErrorCode
		status int
	}{
		{
			name:   "grant by non-moderator",
			evt:    roleEvent(t, stranger, owner.pubkey, id, nostr.KindSpeakingPermission, "granted", stranger.pubkey, now),
			code:   apperrors.ErrCodeForbidden,
			status: http.StatusForbidden,
		},
		{
			name:   "invite by non-moderator",
			evt:    roleEvent(t, stranger, owner.pubkey, id, nostr.KindSpeakingInvitation, "invited", victim.pubkey, now),
			code:   apperrors.ErrCodeForbidden,
			status: http.StatusForbidden,
		},
		{
			name:   "removing someone else",
			evt:    roleEvent(t, stranger, owner.pubkey, id, nostr.KindSpeakingPermission, "removed", victim.pubkey, now),
			code:   apperrors.ErrCodeForbidden,
			status: http.StatusForbidden,
		},
		{
			name:   "accepting for someone else",
			evt:    roleEvent(t, stranger, owner.pubkey, id, nostr.KindSpeakingInvitation, "accepted", victim.pubkey, now),
			code:   apperrors.ErrCodeForbidden,
			status: http.StatusForbidden,
		},
		{
			name:   "grant addressed to a room of another host",
			evt:    roleEvent(t, stranger, stranger.pubkey, id, nostr.KindSpeakingPermission, "granted", stranger.pubkey, now),
			code:   apperrors.ErrCodeForbidden,
			status: http.StatusForbidden,
		},
		{
			name:   "unknown status",
			evt:    roleEvent(t, stranger, owner.pubkey, id, nostr.KindSpeakingRequest, "shouting", "", now),
			code:   apperrors.ErrCodeInvalidInput,
			status: http.StatusBadRequest,
		},
		{
			name:   "other room",
			evt:    roleEvent(t, stranger, owner.pubkey, "another-room", nostr.KindSpeakingRequest, "requested", "", now),
			code:   apperrors.ErrCodeInvalidInput,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.roles.Ingest(ctx, id, tt.evt)
			require.Error(t, err)
			appErr := apperrors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}

	events, err := env.events.QueryRoleEvents(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRoleService_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	owner := newKey(t)
	id := env.createRoom(t, owner.pubkey)

	evt := roleEvent(t, owner, owner.pubkey, id, nostr.KindSpeakingRequest, "requested", "", time.Now())
	evt.Content = "tampered"

	_, _, err := env.roles.Ingest(context.Background(), id, evt)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthBadSignature))
}

func TestRoleService_UnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	owner := newKey(t)
	id := domain.RoomID("5f0e4f1a-3c1b-4c1e-9b7a-2d9c1a0b7e11")

	evt := roleEvent(t, owner, owner.pubkey, id, nostr.KindSpeakingRequest, "requested", "", time.Now())
	_, _, err := env.roles.Ingest(context.Background(), id, evt)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFoundDirectory))

	_, err = env.roles.EffectiveRole(context.Background(), id, owner.pubkey)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFoundDirectory))
}

func TestRoleService_IngestNeedsStore(t *testing.T) {
	env := newTestEnv(t)
	owner := newKey(t)
	id := env.createRoom(t, owner.pubkey)
	roles := NewRoleService(nil, env.directory, env.resolver, env.issuer, env.metrics, zap.NewNop().Sugar())

	evt := roleEvent(t, owner, owner.pubkey, id, nostr.KindSpeakingRequest, "requested", "", time.Now())
	_, _, err := roles.Ingest(context.Background(), id, evt)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotImplemented, apperrors.GetAppError(err).HTTPStatus)
}
