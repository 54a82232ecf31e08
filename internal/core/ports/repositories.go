package ports

import (
	"context"
	"time"

	"nests/internal/core/domain"
)

// RoomDirectory persists Room records with a sliding TTL. It is not
// authoritative for whether the media room is alive.
type RoomDirectory interface {
	// Get returns domain.ErrRoomNotFound for unknown or expired rooms.
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Put(ctx context.Context, room *domain.Room, ttl time.Duration) error
	// PutIfGeneration stores room only if the stored record still carries
	// the expected generation. Returns domain.ErrGenerationConflict or
	// domain.ErrRoomNotFound otherwise.
	PutIfGeneration(ctx context.Context, room *domain.Room, expected uint64, ttl time.Duration) error
	// Delete succeeds for rooms that are already gone.
	Delete(ctx context.Context, id domain.RoomID) error
	// Touch extends the TTL; it returns domain.ErrRoomNotFound for unknown rooms.
	Touch(ctx context.Context, id domain.RoomID, ttl time.Duration) error
	List(ctx context.Context) ([]*domain.Room, error)
}

// EventSource is a queryable, unordered, at-least-once log of role events.
type EventSource interface {
	// QueryRoleEvents returns every event referencing room whose kind is in
	// kinds (all kinds when empty). Duplicates by id are allowed.
	QueryRoleEvents(ctx context.Context, room domain.RoomID, kinds ...domain.EventKind) ([]domain.RoleEvent, error)
}

// EventStore is an EventSource that also accepts writes.
type EventStore interface {
	EventSource
	// Append stores evt and reports false if an event with the same id
	// was already present.
	Append(ctx context.Context, evt domain.RoleEvent) (bool, error)
	// Forget drops every event of room.
	Forget(ctx context.Context, room domain.RoomID) error
}

// RoomLocker serializes lifecycle operations on one room across API
// instances.
type RoomLocker interface {
	// TryLock returns ok=false without waiting when key is held elsewhere.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}
