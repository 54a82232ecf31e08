package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/services"
	"nests/internal/infrastructure/repositories/memory"
	"nests/pkg/nostr"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"
	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRelay struct {
	events []*nostr.Event

	mu      sync.Mutex
	filters []gonostr.Filter
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	req, ok := gonostr.ParseMessage(data).(*gonostr.ReqEnvelope)
	if !ok || len(req.Filters) == 0 {
		return
	}
	subID := req.SubscriptionID
	f.mu.Lock()
	f.filters = append(f.filters, req.Filters[0])
	f.mu.Unlock()

	_ = conn.WriteJSON([]interface{}{"NOTICE", "hello"})
	for _, evt := range f.events {
		_ = conn.WriteJSON([]interface{}{"EVENT", subID, evt})
	}
	_ = conn.WriteJSON([]interface{}{"EOSE", subID})

	// Wait for CLOSE before hanging up.
	_, _, _ = conn.ReadMessage()
}

// localRelays lets tests dial httptest relays.
var localRelays = DialPolicy{AllowInsecure: true, AllowPrivate: true}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func signed(t *testing.T, key *btcec.PrivateKey, kind int, createdAt int64, tags nostr.Tags) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{CreatedAt: nostr.Timestamp(createdAt), Kind: kind, Tags: tags}
	require.NoError(t, nostr.Sign(evt, key))
	return evt
}

func TestSource_MergesRelaysAndDropsInvalid(t *testing.T) {
	ctx := context.Background()
	host := newKey(t)
	alice := newKey(t)
	hostHex := nostr.PublicKeyHex(host)
	aliceHex := nostr.PublicKeyHex(alice)
	now := time.Now()

	aTag := nostr.Tag{"a", nostr.RoomAddress(hostHex, "room-1").String()}
	request := signed(t, alice, nostr.KindSpeakingRequest, now.Unix()-10, nostr.Tags{aTag, {"status", "requested"}})
	grant := signed(t, host, nostr.KindSpeakingPermission, now.Unix()-5, nostr.Tags{aTag, {"p", aliceHex}, {"status", "granted"}})
	otherRoom := signed(t, alice, nostr.KindSpeakingRequest, now.Unix(), nostr.Tags{
		{"a", nostr.RoomAddress(hostHex, "room-2").String()}, {"status", "requested"},
	})
	forged := signed(t, alice, nostr.KindSpeakingRequest, now.Unix(), nostr.Tags{aTag, {"status", "requested"}})
	forged.Tags = nostr.Tags{aTag, {"status", "cancelled"}}

	relayA := &fakeRelay{events: []*nostr.Event{request, grant, forged}}
	relayB := &fakeRelay{events: []*nostr.Event{grant, otherRoom}}
	srvA := httptest.NewServer(relayA)
	defer srvA.Close()
	srvB := httptest.NewServer(relayB)
	defer srvB.Close()

	dir := memory.NewRoomDirectory()
	require.NoError(t, dir.Put(ctx, domain.NewRoom("room-1", domain.Identity(hostHex), []string{wsURL(srvA)}, false, now), time.Hour))

	src := NewSource(dir, []string{wsURL(srvB)}, localRelays, 2*time.Second, 24*time.Hour, zaptest.NewLogger(t).Sugar())
	events, err := src.QueryRoleEvents(ctx, "room-1")
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{request.ID, grant.ID}, ids)

	require.Len(t, relayA.filters, 1)
	assert.Equal(t, []string{aTag.Value()}, relayA.filters[0].Tags["a"])
	assert.ElementsMatch(t, domain.RoleEventKinds(), relayA.filters[0].Kinds)
	require.NotNil(t, relayA.filters[0].Since)

	grants, err := src.QueryRoleEvents(ctx, "room-1", domain.KindGrant)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, domain.Identity(aliceHex), grants[0].Target)
}

func TestSource_PartialAndTotalFailure(t *testing.T) {
	ctx := context.Background()
	host := newKey(t)
	hostHex := nostr.PublicKeyHex(host)

	srv := httptest.NewServer(&fakeRelay{})
	defer srv.Close()

	dir := memory.NewRoomDirectory()
	require.NoError(t, dir.Put(ctx, domain.NewRoom("room-1", domain.Identity(hostHex),
		[]string{wsURL(srv), "ws://127.0.0.1:1"}, false, time.Now()), time.Hour))
	require.NoError(t, dir.Put(ctx, domain.NewRoom("room-2", domain.Identity(hostHex),
		[]string{"ws://127.0.0.1:1"}, false, time.Now()), time.Hour))

	src := NewSource(dir, nil, localRelays, time.Second, 0, zaptest.NewLogger(t).Sugar())

	events, err := src.QueryRoleEvents(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = src.QueryRoleEvents(ctx, "room-2")
	assert.Error(t, err)

	_, err = src.QueryRoleEvents(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSource_DropsSelfIssuedModeratorEvents(t *testing.T) {
	ctx := context.Background()
	host := newKey(t)
	mallory := newKey(t)
	hostHex := nostr.PublicKeyHex(host)
	malloryHex := nostr.PublicKeyHex(mallory)
	now := time.Now()

	aTag := nostr.Tag{"a", nostr.RoomAddress(hostHex, "room-1").String()}
	request := signed(t, mallory, nostr.KindSpeakingRequest, now.Unix()-10, nostr.Tags{aTag, {"status", "requested"}})
	selfGrant := signed(t, mallory, nostr.KindSpeakingPermission, now.Unix()-5, nostr.Tags{aTag, {"p", malloryHex}, {"status", "granted"}})
	selfInvite := signed(t, mallory, nostr.KindSpeakingInvitation, now.Unix()-4, nostr.Tags{aTag, {"p", malloryHex}, {"status", "invited"}})
	// Addressed to the same room id under another host key.
	foreignTag := nostr.Tag{"a", nostr.RoomAddress(malloryHex, "room-1").String()}
	foreignGrant := signed(t, mallory, nostr.KindSpeakingPermission, now.Unix()-3, nostr.Tags{foreignTag, {"p", malloryHex}, {"status", "granted"}})

	srv := httptest.NewServer(&fakeRelay{events: []*nostr.Event{request, selfGrant, selfInvite, foreignGrant}})
	defer srv.Close()

	dir := memory.NewRoomDirectory()
	room := domain.NewRoom("room-1", domain.Identity(hostHex), []string{wsURL(srv)}, false, now)
	require.NoError(t, dir.Put(ctx, room, time.Hour))

	src := NewSource(dir, nil, localRelays, 2*time.Second, 0, zaptest.NewLogger(t).Sugar())
	events, err := src.QueryRoleEvents(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, request.ID, events[0].ID)

	resolver := services.NewRoleResolver(src, 0, zaptest.NewLogger(t).Sugar())
	res, err := resolver.ResolveParticipant(ctx, room, domain.Identity(malloryHex))
	require.NoError(t, err)
	assert.False(t, res.ActivePermission)

	issuer := services.NewTokenIssuer("key", "secret-secret-secret-secret-secret", time.Hour)
	role := issuer.RoleFor(room, domain.Identity(malloryHex), res)
	assert.Equal(t, domain.RoleListener, role.Role)
}

func TestSource_DialPolicyRefusesRoomRelays(t *testing.T) {
	ctx := context.Background()
	hostHex := nostr.PublicKeyHex(newKey(t))

	srv := httptest.NewServer(&fakeRelay{})
	defer srv.Close()

	tests := []struct {
		name   string
		relay  string
		policy DialPolicy
	}{
		{"plain ws", wsURL(srv), DialPolicy{AllowPrivate: true}},
		{"loopback", "wss://127.0.0.1:1", DialPolicy{AllowInsecure: true}},
		{"private range", "wss://10.0.0.1:443", DialPolicy{}},
		{"not a websocket", "http://relay.example.com", DialPolicy{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := memory.NewRoomDirectory()
			require.NoError(t, dir.Put(ctx, domain.NewRoom("room-1", domain.Identity(hostHex),
				[]string{tt.relay}, false, time.Now()), time.Hour))

			src := NewSource(dir, nil, tt.policy, time.Second, 0, zaptest.NewLogger(t).Sugar())
			_, err := src.QueryRoleEvents(ctx, "room-1")
			assert.ErrorIs(t, err, ErrRelayNotAllowed)
		})
	}
}

func TestSource_FallbackRelaysAreTrusted(t *testing.T) {
	ctx := context.Background()
	hostHex := nostr.PublicKeyHex(newKey(t))

	relay := &fakeRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	dir := memory.NewRoomDirectory()
	require.NoError(t, dir.Put(ctx, domain.NewRoom("room-1", domain.Identity(hostHex),
		[]string{"ws://10.0.0.1:7777"}, false, time.Now()), time.Hour))

	src := NewSource(dir, []string{wsURL(srv)}, DialPolicy{}, time.Second, 0, zaptest.NewLogger(t).Sugar())
	_, err := src.QueryRoleEvents(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, relay.filters, 1)
}
