// Package livekit adapts the LiveKit Room Service API to ports.RoomService.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

// RoomService talks to LiveKit over Twirp.
type RoomService struct {
	client *lksdk.RoomServiceClient
}

func NewRoomService(url, apiKey, apiSecret string) *RoomService {
	return &RoomService{client: lksdk.NewRoomServiceClient(url, apiKey, apiSecret)}
}

var _ ports.RoomService = (*RoomService)(nil)

func (s *RoomService) CreateRoom(ctx context.Context, req ports.CreateRoomRequest) (*ports.ExternalRoom, error) {
	room, err := s.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:             string(req.ID),
		MaxParticipants:  req.MaxParticipants,
		EmptyTimeout:     uint32(req.EmptyTimeout / time.Second),
		DepartureTimeout: uint32(req.DepartureTimeout / time.Second),
		Metadata:         req.Metadata,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return toExternalRoom(room), nil
}

func (s *RoomService) GetRoom(ctx context.Context, id domain.RoomID) (*ports.ExternalRoom, error) {
	res, err := s.client.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{string(id)}})
	if err != nil {
		return nil, mapError(err)
	}
	for _, room := range res.GetRooms() {
		if room.GetName() == string(id) {
			return toExternalRoom(room), nil
		}
	}
	return nil, domain.ErrExternalRoomNotFound
}

func (s *RoomService) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	_, err := s.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: string(id)})
	return mapError(err)
}

func (s *RoomService) ListParticipants(ctx context.Context, id domain.RoomID) ([]ports.Participant, error) {
	res, err := s.client.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: string(id)})
	if err != nil {
		return nil, mapError(err)
	}

	participants := make([]ports.Participant, 0, len(res.GetParticipants()))
	for _, p := range res.GetParticipants() {
		participants = append(participants, toParticipant(p))
	}
	return participants, nil
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*ports.ExternalRoom, error) {
	res, err := s.client.ListRooms(ctx, &livekit.ListRoomsRequest{})
	if err != nil {
		return nil, mapError(err)
	}

	rooms := make([]*ports.ExternalRoom, 0, len(res.GetRooms()))
	for _, room := range res.GetRooms() {
		rooms = append(rooms, toExternalRoom(room))
	}
	return rooms, nil
}

// MuteParticipant mutes or unmutes every audio track identity publishes.
// A participant with no audio tracks is a no-op.
func (s *RoomService) MuteParticipant(ctx context.Context, id domain.RoomID, identity domain.Identity, muted bool) error {
	p, err := s.client.GetParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     string(id),
		Identity: string(identity),
	})
	if err != nil {
		return mapError(err)
	}

	var errs []error
	for _, track := range p.GetTracks() {
		if track.GetType() != livekit.TrackType_AUDIO || track.GetMuted() == muted {
			continue
		}
		_, err := s.client.MutePublishedTrack(ctx, &livekit.MuteRoomTrackRequest{
			Room:     string(id),
			Identity: string(identity),
			TrackSid: track.GetSid(),
			Muted:    muted,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", track.GetSid(), mapError(err)))
		}
	}
	return errors.Join(errs...)
}

// IsNotFound reports whether err is a Twirp not_found error.
func IsNotFound(err error) bool {
	var twerr twirp.Error
	return errors.As(err, &twerr) && twerr.Code() == twirp.NotFound
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return fmt.Errorf("%w: %v", domain.ErrExternalRoomNotFound, err)
	}
	return err
}

func toExternalRoom(room *livekit.Room) *ports.ExternalRoom {
	return &ports.ExternalRoom{
		Name:            room.GetName(),
		SID:             room.GetSid(),
		NumParticipants: room.GetNumParticipants(),
		Metadata:        room.GetMetadata(),
		ActiveRecording: room.GetActiveRecording(),
		CreatedAt:       time.Unix(room.GetCreationTime(), 0),
	}
}

func toParticipant(p *livekit.ParticipantInfo) ports.Participant {
	tracks := make([]ports.Track, 0, len(p.GetTracks()))
	for _, t := range p.GetTracks() {
		tracks = append(tracks, ports.Track{
			SID:   t.GetSid(),
			Audio: t.GetType() == livekit.TrackType_AUDIO,
			Muted: t.GetMuted(),
		})
	}
	return ports.Participant{
		Identity: p.GetIdentity(),
		Name:     p.GetName(),
		JoinedAt: time.Unix(p.GetJoinedAt(), 0),
		Tracks:   tracks,
	}
}
