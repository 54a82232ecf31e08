package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
)

type roomEntry struct {
	room      *domain.Room
	expiresAt time.Time
}

// RoomDirectory keeps rooms in process memory. Expired entries are evicted
// on access and by List.
type RoomDirectory struct {
	rooms map[domain.RoomID]roomEntry
	mu    sync.Mutex
	now   func() time.Time
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms: make(map[domain.RoomID]roomEntry),
		now:   time.Now,
	}
}

var _ ports.RoomDirectory = (*RoomDirectory)(nil)

// SetClock replaces the clock used for expiry.
func (r *RoomDirectory) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *RoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(id)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return entry.room.Clone(), nil
}

func (r *RoomDirectory) Put(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms[room.ID] = roomEntry{room: room.Clone(), expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *RoomDirectory) PutIfGeneration(ctx context.Context, room *domain.Room, expected uint64, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(room.ID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if entry.room.Generation != expected {
		return domain.ErrGenerationConflict
	}
	r.rooms[room.ID] = roomEntry{room: room.Clone(), expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *RoomDirectory) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, id)
	return nil
}

func (r *RoomDirectory) Touch(ctx context.Context, id domain.RoomID, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.live(id)
	if !ok {
		return domain.ErrRoomNotFound
	}
	entry.expiresAt = r.now().Add(ttl)
	r.rooms[id] = entry
	return nil
}

func (r *RoomDirectory) List(ctx context.Context) ([]*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for id := range r.rooms {
		if entry, ok := r.live(id); ok {
			rooms = append(rooms, entry.room.Clone())
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// live evicts id if it has expired. Must be called with the lock held.
func (r *RoomDirectory) live(id domain.RoomID) (roomEntry, bool) {
	entry, ok := r.rooms[id]
	if !ok {
		return roomEntry{}, false
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.rooms, id)
		return roomEntry{}, false
	}
	return entry, true
}
