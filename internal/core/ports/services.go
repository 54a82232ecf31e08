package ports

import (
	"context"
	"time"

	"nests/internal/core/domain"
)

type CreateRoomRequest struct {
	ID               domain.RoomID
	MaxParticipants  uint32
	EmptyTimeout     time.Duration
	DepartureTimeout time.Duration
	Metadata         string
}

// ExternalRoom is the media service's view of a room.
type ExternalRoom struct {
	Name            string
	SID             string
	NumParticipants uint32
	Metadata        string
	ActiveRecording bool
	CreatedAt       time.Time
}

type Track struct {
	SID   string
	Audio bool
	Muted bool
}

type Participant struct {
	Identity string
	Name     string
	JoinedAt time.Time
	Tracks   []Track
}

// RoomService is the external, eventually consistent media room service.
// Get, Delete, ListParticipants and MuteParticipant return
// domain.ErrExternalRoomNotFound for rooms it does not know.
type RoomService interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*ExternalRoom, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*ExternalRoom, error)
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	ListParticipants(ctx context.Context, id domain.RoomID) ([]Participant, error)
	ListRooms(ctx context.Context) ([]*ExternalRoom, error)
	// MuteParticipant toggles every audio track published by identity.
	MuteParticipant(ctx context.Context, id domain.RoomID, identity domain.Identity, muted bool) error
}

// Metrics receives lifecycle and join outcomes.
type Metrics interface {
	RecordLifecycle(op, outcome string)
	ObserveRoomServiceCall(op string, d time.Duration, err error)
	RecordJoin(path, outcome string)
	RecordSystemicInconsistency(roomID domain.RoomID)
	RecordAuthFailure(reason string)
	RecordRoleEvent(kind domain.EventKind, outcome string)
	RecordCircuitBreakerTransition(breaker, state string)
}
