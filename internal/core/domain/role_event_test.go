package domain

import (
	"strings"
	"testing"
	"time"

	"nests/pkg/nostr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostKey   = strings.Repeat("aa", 32)
	actorKey  = strings.Repeat("bb", 32)
	targetKey = strings.Repeat("cc", 32)
)

func roomTag(id string) nostr.Tag {
	return nostr.Tag{"a", nostr.RoomAddress(hostKey, id).String(), "", "root"}
}

func TestParseRoleEvent(t *testing.T) {
	tests := []struct {
		name   string
		kind   int
		tags   nostr.Tags
		want   EventKind
		target Identity
	}{
		{"request", nostr.KindSpeakingRequest, nostr.Tags{roomTag("r1"), {"status", "requested"}}, KindRequest, Identity(actorKey)},
		{"cancel", nostr.KindSpeakingRequest, nostr.Tags{roomTag("r1"), {"status", "cancelled"}}, KindCancel, Identity(actorKey)},
		{"grant", nostr.KindSpeakingPermission, nostr.Tags{roomTag("r1"), {"p", targetKey}, {"status", "granted"}, {"e", "req"}}, KindGrant, Identity(targetKey)},
		{"deny", nostr.KindSpeakingPermission, nostr.Tags{roomTag("r1"), {"p", targetKey}, {"status", "denied"}}, KindDeny, Identity(targetKey)},
		{"revoke", nostr.KindSpeakingPermission, nostr.Tags{roomTag("r1"), {"p", targetKey}, {"status", "revoked"}}, KindRevoke, Identity(targetKey)},
		{"self remove", nostr.KindSpeakingPermission, nostr.Tags{roomTag("r1"), {"status", "removed"}}, KindSelfRemove, Identity(actorKey)},
		{"invite", nostr.KindSpeakingInvitation, nostr.Tags{roomTag("r1"), {"p", targetKey}, {"status", "invited"}}, KindInvite, Identity(targetKey)},
		{"accept", nostr.KindSpeakingInvitation, nostr.Tags{roomTag("r1"), {"e", "inv"}, {"status", "accepted"}}, KindAccept, Identity(actorKey)},
		{"decline", nostr.KindSpeakingInvitation, nostr.Tags{roomTag("r1"), {"e", "inv"}, {"status", "declined"}}, KindDecline, Identity(actorKey)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := &nostr.Event{ID: "id-" + tt.name, PubKey: actorKey, CreatedAt: 100, Kind: tt.kind, Tags: tt.tags}
			got, err := ParseRoleEvent(evt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.target, got.Target)
			assert.Equal(t, Identity(actorKey), got.Actor)
			assert.Equal(t, RoomID("r1"), got.RoomRef)
			assert.Equal(t, Identity(hostKey), got.RoomHost)
			assert.Equal(t, time.Unix(100, 0), got.CreatedAt)
		})
	}
}

func TestParseRoleEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		evt  nostr.Event
		err  error
	}{
		{"foreign kind", nostr.Event{Kind: 1, Tags: nostr.Tags{roomTag("r1")}}, ErrUnknownEventKind},
		{"unknown status", nostr.Event{Kind: nostr.KindSpeakingPermission, Tags: nostr.Tags{roomTag("r1"), {"status", "maybe"}}}, ErrUnknownEventKind},
		{"no room", nostr.Event{Kind: nostr.KindSpeakingRequest, Tags: nostr.Tags{{"status", "requested"}}}, ErrMissingRoomRef},
		{"wrong address kind", nostr.Event{Kind: nostr.KindSpeakingRequest, Tags: nostr.Tags{{"a", "30023:" + hostKey + ":x"}, {"status", "requested"}}}, ErrMissingRoomRef},
		{"grant without target", nostr.Event{Kind: nostr.KindSpeakingPermission, Tags: nostr.Tags{roomTag("r1"), {"status", "granted"}}}, ErrMissingTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.evt.PubKey = actorKey
			_, err := ParseRoleEvent(&tt.evt)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRoleEvent_NewerThan_TieBreaksOnID(t *testing.T) {
	at := time.Unix(50, 0)
	a := RoleEvent{ID: "aaa", CreatedAt: at}
	b := RoleEvent{ID: "bbb", CreatedAt: at}

	assert.True(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(b))

	later := RoleEvent{ID: "000", CreatedAt: at.Add(time.Second)}
	assert.True(t, later.NewerThan(b))
}

func TestEventKind_Family(t *testing.T) {
	assert.Equal(t, FamilyRequest, KindCancel.Family())
	assert.Equal(t, FamilyPermission, KindSelfRemove.Family())
	assert.Equal(t, FamilyInvitation, KindDecline.Family())
	assert.Equal(t, Family(0), EventKind(99).Family())
	assert.Equal(t, "grant", KindGrant.String())
}

func TestRoleEvent_AuthorizedIn(t *testing.T) {
	room := NewRoom("r1", Identity(hostKey), nil, false, time.Unix(0, 0))
	admin := Identity(strings.Repeat("dd", 32))
	_, err := room.SetAdmin(admin, true)
	require.NoError(t, err)

	tests := []struct {
		name  string
		evt   RoleEvent
		allow bool
	}{
		{"own request", RoleEvent{Kind: KindRequest, Actor: Identity(actorKey), Target: Identity(actorKey)}, true},
		{"request for another", RoleEvent{Kind: KindRequest, Actor: Identity(actorKey), Target: Identity(targetKey)}, false},
		{"accept for another", RoleEvent{Kind: KindAccept, Actor: Identity(actorKey), Target: Identity(targetKey)}, false},
		{"host grant", RoleEvent{Kind: KindGrant, Actor: Identity(hostKey), Target: Identity(targetKey)}, true},
		{"admin revoke", RoleEvent{Kind: KindRevoke, Actor: admin, Target: Identity(targetKey)}, true},
		{"self grant", RoleEvent{Kind: KindGrant, Actor: Identity(actorKey), Target: Identity(actorKey)}, false},
		{"self invite", RoleEvent{Kind: KindInvite, Actor: Identity(actorKey), Target: Identity(actorKey)}, false},
		{"self remove", RoleEvent{Kind: KindSelfRemove, Actor: Identity(actorKey), Target: Identity(actorKey)}, true},
		{"admin removes speaker", RoleEvent{Kind: KindSelfRemove, Actor: admin, Target: Identity(targetKey)}, true},
		{"listener removes speaker", RoleEvent{Kind: KindSelfRemove, Actor: Identity(actorKey), Target: Identity(targetKey)}, false},
		{"other host's room", RoleEvent{Kind: KindGrant, RoomHost: admin, Actor: admin, Target: Identity(targetKey)}, false},
		{"unknown kind", RoleEvent{Kind: EventKind(99), Actor: Identity(hostKey), Target: Identity(hostKey)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.AuthorizedIn(room)
			if tt.allow {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.evt.Kind.Family() != 0 {
				assert.ErrorIs(t, err, ErrActorNotAllowed)
			}
		})
	}
}
