package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	"nests/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	roomPrefix   = "nests:room:"
	roomIndexKey = "nests:rooms"
)

// putIfGeneration replaces KEYS[1] only when its generation equals
// ARGV[1]. Returns -1 for a missing key and 0 on a generation mismatch.
var putIfGeneration = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return -1
end
local room = cjson.decode(current)
if tonumber(room["generation"]) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// RoomDirectory stores each room as a JSON string with a TTL. A set of
// ids backs List and is pruned lazily.
type RoomDirectory struct {
	client *redis.Client
}

func NewRoomDirectory(client *redis.Client) *RoomDirectory {
	return &RoomDirectory{client: client}
}

var _ ports.RoomDirectory = (*RoomDirectory)(nil)

func roomKey(id domain.RoomID) string {
	return roomPrefix + string(id)
}

func (r *RoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "get", string(id))
	defer span.End()

	data, err := r.client.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RoomDirectory) Put(ctx context.Context, room *domain.Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(room.ID), data, ttl)
		pipe.SAdd(ctx, roomIndexKey, string(room.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put room in Redis: %w", err)
	}
	return nil
}

func (r *RoomDirectory) PutIfGeneration(ctx context.Context, room *domain.Room, expected uint64, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("room ttl must be positive")
	}
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	ctx, span := tracing.TraceDirectoryOperation(ctx, "put_if_generation", string(room.ID))
	defer span.End()

	res, err := putIfGeneration.Run(ctx, r.client,
		[]string{roomKey(room.ID)},
		fmt.Sprintf("%d", expected), data, ttl.Milliseconds(),
	).Int()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to put room in Redis: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrRoomNotFound
	case 0:
		return domain.ErrGenerationConflict
	}
	return nil
}

func (r *RoomDirectory) Delete(ctx context.Context, id domain.RoomID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(id))
		pipe.SRem(ctx, roomIndexKey, string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	return nil
}

func (r *RoomDirectory) Touch(ctx context.Context, id domain.RoomID, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, roomKey(id), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh room TTL: %w", err)
	}
	if !ok {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RoomDirectory) List(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms from Redis: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		room, err := r.Get(ctx, domain.RoomID(id))
		if errors.Is(err, domain.ErrRoomNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	if len(expired) > 0 {
		if err := r.client.SRem(ctx, roomIndexKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune room index: %w", err)
		}
	}
	return rooms, nil
}
