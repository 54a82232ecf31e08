package memory

import (
	"context"
	"slices"
	"sync"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
)

// EventStore keeps role events per room in process memory.
type EventStore struct {
	events map[domain.RoomID]map[string]domain.RoleEvent
	mu     sync.RWMutex
}

func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[domain.RoomID]map[string]domain.RoleEvent),
	}
}

var _ ports.EventStore = (*EventStore)(nil)

func (s *EventStore) Append(ctx context.Context, evt domain.RoleEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.events[evt.RoomRef]
	if !ok {
		room = make(map[string]domain.RoleEvent)
		s.events[evt.RoomRef] = room
	}
	if _, exists := room[evt.ID]; exists {
		return false, nil
	}
	room[evt.ID] = evt
	return true, nil
}

func (s *EventStore) QueryRoleEvents(ctx context.Context, room domain.RoomID, kinds ...domain.EventKind) ([]domain.RoleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RoleEvent
	for _, evt := range s.events[room] {
		if len(kinds) == 0 || slices.Contains(kinds, evt.Kind) {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Forget drops every event of room.
func (s *EventStore) Forget(ctx context.Context, room domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, room)
	return nil
}
