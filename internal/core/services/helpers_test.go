package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	"nests/internal/infrastructure/monitoring"
	"nests/internal/infrastructure/repositories/memory"
	"nests/pkg/nostr"
	"nests/pkg/retry"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey    = "APIkey123"
	testAPISecret = "secret-secret-secret-secret-secret"
)

var testRelays = []string{"wss://relay.example.com"}

// fakeRooms is an in-process media room service.
type fakeRooms struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*ports.ExternalRoom
	created []ports.CreateRoomRequest
	deleted []domain.RoomID
	muted   map[domain.Identity]bool

	createErr error
	getErr    error
	deleteErr error
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms: make(map[domain.RoomID]*ports.ExternalRoom),
		muted: make(map[domain.Identity]bool),
	}
}

func (f *fakeRooms) CreateRoom(ctx context.Context, req ports.CreateRoomRequest) (*ports.ExternalRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	room := &ports.ExternalRoom{Name: string(req.ID), SID: "RM_" + string(req.ID), Metadata: req.Metadata, CreatedAt: time.Now()}
	f.rooms[req.ID] = room
	f.created = append(f.created, req)
	return room, nil
}

func (f *fakeRooms) GetRoom(ctx context.Context, id domain.RoomID) (*ports.ExternalRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	room, ok := f.rooms[id]
	if !ok {
		return nil, domain.ErrExternalRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeRooms) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.rooms[id]; !ok {
		return domain.ErrExternalRoomNotFound
	}
	delete(f.rooms, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRooms) ListParticipants(ctx context.Context, id domain.RoomID) ([]ports.Participant, error) {
	return nil, nil
}

func (f *fakeRooms) ListRooms(ctx context.Context) ([]*ports.ExternalRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ports.ExternalRoom, 0, len(f.rooms))
	for _, r := range f.rooms {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRooms) MuteParticipant(ctx context.Context, id domain.RoomID, identity domain.Identity, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted[identity] = muted
	return nil
}

// drop removes a media room behind the coordinator's back.
func (f *fakeRooms) drop(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}

func (f *fakeRooms) has(id domain.RoomID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[id]
	return ok
}

type testEnv struct {
	directory   *memory.RoomDirectory
	events      *memory.EventStore
	rooms       *fakeRooms
	registry    *prometheus.Registry
	metrics     *monitoring.PrometheusCollector
	auth        *RequestAuthenticator
	issuer      *TokenIssuer
	resolver    *RoleResolver
	coordinator *SessionCoordinator
	joins       *JoinService
	roles       *RoleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	registry := prometheus.NewRegistry()
	env := &testEnv{
		directory: memory.NewRoomDirectory(),
		events:    memory.NewEventStore(),
		rooms:     newFakeRooms(),
		registry:  registry,
		metrics:   monitoring.NewPrometheusCollector(registry),
	}

	cfg := DefaultSessionConfig()
	cfg.LiveKitURL = "wss://livekit.example.com"
	cfg.HLSBaseURL = "https://hls.example.com"
	cfg.Restart = retry.RestartPolicy(0, 2)

	env.auth = NewRequestAuthenticator(DefaultAuthWindow, env.metrics)
	env.issuer = NewTokenIssuer(testAPIKey, testAPISecret, cfg.EmptyTimeout)
	env.resolver = NewRoleResolver(env.events, 0, logger)
	env.coordinator = NewSessionCoordinator(env.directory, env.rooms, env.issuer, env.metrics, cfg, logger)
	env.coordinator.UseEventStore(env.events)
	env.joins = NewJoinService(env.auth, env.directory, env.rooms, env.resolver, env.issuer, env.metrics, time.Second, logger)
	env.roles = NewRoleService(env.events, env.directory, env.resolver, env.issuer, env.metrics, logger)
	return env
}

type testKey struct {
	priv   *btcec.PrivateKey
	pubkey domain.Identity
}

func newKey(t *testing.T) testKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return testKey{priv: priv, pubkey: domain.Identity(nostr.PublicKeyHex(priv))}
}

// createRoom creates a nest owned by owner and returns its id.
func (e *testEnv) createRoom(t *testing.T, owner domain.Identity) domain.RoomID {
	t.Helper()
	res, err := e.coordinator.Create(context.Background(), owner, CreateRequest{Relays: testRelays})
	require.NoError(t, err)
	return res.RoomID
}

// roleEvent signs a role event of nostrKind with status for room.
func roleEvent(t *testing.T, key testKey, owner domain.Identity, room domain.RoomID, nostrKind int, status string, target domain.Identity, at time.Time) *nostr.Event {
	t.Helper()
	tags := nostr.Tags{
		{"a", nostr.RoomAddress(string(owner), string(room)).String()},
		{"status", status},
	}
	if target != "" {
		tags = append(tags, nostr.Tag{"p", string(target)})
	}
	evt := &nostr.Event{CreatedAt: nostr.Timestamp(at.Unix()), Kind: nostrKind, Tags: tags}
	require.NoError(t, nostr.Sign(evt, key.priv))
	return evt
}
