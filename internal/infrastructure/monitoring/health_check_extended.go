package monitoring

import (
	"context"
	"errors"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const healthCheckRoomID domain.RoomID = "health-check"

func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddDirectoryCheck looks up a room that never exists; only transport
// errors fail it.
func (h *HealthChecker) AddDirectoryCheck(dir ports.RoomDirectory, interval, timeout time.Duration) {
	h.AddCheck("directory", func(ctx context.Context) (bool, error) {
		_, err := dir.Get(ctx, healthCheckRoomID)
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

func (h *HealthChecker) AddRoomServiceCheck(rooms ports.RoomService, interval, timeout time.Duration) {
	h.AddCheck("room_service", func(ctx context.Context) (bool, error) {
		if _, err := rooms.ListRooms(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// GetReadinessStatus is the body of the /ready endpoint.
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}
