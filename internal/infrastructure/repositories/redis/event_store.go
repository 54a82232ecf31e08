package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const eventsPrefix = "nests:events:"

// EventStore keeps one hash per room, keyed by event id. The hash expires
// ttl after the last append.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	return &EventStore{client: client, ttl: ttl}
}

var _ ports.EventStore = (*EventStore)(nil)

func eventsKey(room domain.RoomID) string {
	return eventsPrefix + string(room)
}

func (s *EventStore) Append(ctx context.Context, evt domain.RoleEvent) (bool, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return false, fmt.Errorf("failed to marshal role event: %w", err)
	}

	key := eventsKey(evt.RoomRef)
	var added *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSetNX(ctx, key, evt.ID, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to append role event: %w", err)
	}
	return added.Val(), nil
}

func (s *EventStore) QueryRoleEvents(ctx context.Context, room domain.RoomID, kinds ...domain.EventKind) ([]domain.RoleEvent, error) {
	values, err := s.client.HVals(ctx, eventsKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query role events: %w", err)
	}

	events := make([]domain.RoleEvent, 0, len(values))
	for _, v := range values {
		var evt domain.RoleEvent
		if err := json.Unmarshal([]byte(v), &evt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role event: %w", err)
		}
		if len(kinds) == 0 || slices.Contains(kinds, evt.Kind) {
			events = append(events, evt)
		}
	}
	return events, nil
}

// Forget drops every event of room.
func (s *EventStore) Forget(ctx context.Context, room domain.RoomID) error {
	if err := s.client.Del(ctx, eventsKey(room)).Err(); err != nil {
		return fmt.Errorf("failed to delete role events: %w", err)
	}
	return nil
}
