package livekit

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitchtv/twirp"
)

// fakeLiveKit implements the subset of the Twirp RoomService the adapter
// uses. Calls to anything else panic on the nil embedded interface.
type fakeLiveKit struct {
	livekit.RoomService

	mu           sync.Mutex
	rooms        map[string]*livekit.Room
	participants map[string][]*livekit.ParticipantInfo
	mutes        []*livekit.MuteRoomTrackRequest
}

func newFakeLiveKit() *fakeLiveKit {
	return &fakeLiveKit{
		rooms:        make(map[string]*livekit.Room),
		participants: make(map[string][]*livekit.ParticipantInfo),
	}
}

func (f *fakeLiveKit) CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &livekit.Room{
		Sid:              "RM_" + req.Name,
		Name:             req.Name,
		EmptyTimeout:     req.EmptyTimeout,
		DepartureTimeout: req.DepartureTimeout,
		MaxParticipants:  req.MaxParticipants,
		Metadata:         req.Metadata,
		CreationTime:     time.Now().Unix(),
	}
	f.rooms[req.Name] = room
	return room, nil
}

func (f *fakeLiveKit) ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := &livekit.ListRoomsResponse{}
	for name, room := range f.rooms {
		if len(req.Names) == 0 || contains(req.Names, name) {
			res.Rooms = append(res.Rooms, room)
		}
	}
	return res, nil
}

func (f *fakeLiveKit) DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[req.Room]; !ok {
		return nil, twirp.NotFoundError("room not found")
	}
	delete(f.rooms, req.Room)
	return &livekit.DeleteRoomResponse{}, nil
}

func (f *fakeLiveKit) ListParticipants(ctx context.Context, req *livekit.ListParticipantsRequest) (*livekit.ListParticipantsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[req.Room]; !ok {
		return nil, twirp.NotFoundError("room not found")
	}
	return &livekit.ListParticipantsResponse{Participants: f.participants[req.Room]}, nil
}

func (f *fakeLiveKit) GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.participants[req.Room] {
		if p.Identity == req.Identity {
			return p, nil
		}
	}
	return nil, twirp.NotFoundError("participant not found")
}

func (f *fakeLiveKit) MutePublishedTrack(ctx context.Context, req *livekit.MuteRoomTrackRequest) (*livekit.MuteRoomTrackResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, req)
	return &livekit.MuteRoomTrackResponse{}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*fakeLiveKit, *RoomService) {
	t.Helper()
	fake := newFakeLiveKit()
	srv := httptest.NewServer(livekit.NewRoomServiceServer(fake))
	t.Cleanup(srv.Close)
	return fake, NewRoomService(srv.URL, "devkey", "secret-secret-secret-secret-secret")
}

func TestRoomService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	fake, svc := newTestService(t)

	room, err := svc.CreateRoom(ctx, ports.CreateRoomRequest{
		ID:               "room-1",
		MaxParticipants:  500,
		EmptyTimeout:     30 * time.Minute,
		DepartureTimeout: time.Minute,
		Metadata:         `{"nestId":"room-1"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "room-1", room.Name)

	stored := fake.rooms["room-1"]
	require.NotNil(t, stored)
	assert.Equal(t, uint32(1800), stored.EmptyTimeout)
	assert.Equal(t, uint32(60), stored.DepartureTimeout)
	assert.Equal(t, uint32(500), stored.MaxParticipants)

	got, err := svc.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, `{"nestId":"room-1"}`, got.Metadata)

	_, err = svc.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrExternalRoomNotFound)
}

func TestRoomService_DeleteMapsNotFound(t *testing.T) {
	ctx := context.Background()
	_, svc := newTestService(t)

	_, err := svc.CreateRoom(ctx, ports.CreateRoomRequest{ID: "room-1"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRoom(ctx, "room-1"))

	err = svc.DeleteRoom(ctx, "room-1")
	assert.ErrorIs(t, err, domain.ErrExternalRoomNotFound)
}

func TestRoomService_MuteParticipantAudioOnly(t *testing.T) {
	ctx := context.Background()
	fake, svc := newTestService(t)

	_, err := svc.CreateRoom(ctx, ports.CreateRoomRequest{ID: "room-1"})
	require.NoError(t, err)
	fake.participants["room-1"] = []*livekit.ParticipantInfo{{
		Identity: "alice",
		Tracks: []*livekit.TrackInfo{
			{Sid: "TR_audio", Type: livekit.TrackType_AUDIO},
			{Sid: "TR_video", Type: livekit.TrackType_VIDEO},
			{Sid: "TR_muted", Type: livekit.TrackType_AUDIO, Muted: true},
		},
	}}

	require.NoError(t, svc.MuteParticipant(ctx, "room-1", "alice", true))
	require.Len(t, fake.mutes, 1)
	assert.Equal(t, "TR_audio", fake.mutes[0].TrackSid)
	assert.True(t, fake.mutes[0].Muted)

	participants, err := svc.ListParticipants(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Len(t, participants[0].Tracks, 3)
	assert.True(t, participants[0].Tracks[0].Audio)

	err = svc.MuteParticipant(ctx, "room-1", "bob", true)
	assert.ErrorIs(t, err, domain.ErrExternalRoomNotFound)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(twirp.NotFoundError("gone")))
	assert.False(t, IsNotFound(twirp.InternalError("boom")))
	assert.False(t, IsNotFound(nil))
}
