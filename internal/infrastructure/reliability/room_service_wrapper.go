package reliability

import (
	"context"
	"errors"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	"nests/pkg/circuitbreaker"
	"nests/pkg/retry"
	"nests/pkg/tracing"

	"go.uber.org/zap"
)

const breakerName = "room_service"

// RoomServiceWrapper wraps a RoomService with retries for reads, a circuit
// breaker, tracing and call metrics. A clean "not found" answer is
// neither retried nor counted against the breaker.
type RoomServiceWrapper struct {
	service ports.RoomService
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewRoomServiceWrapper creates a new wrapper with retry and circuit breaker
func NewRoomServiceWrapper(
	service ports.RoomService,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *RoomServiceWrapper {
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		domain.ErrExternalRoomNotFound,
		circuitbreaker.ErrOpen,
		context.Canceled,
		context.DeadlineExceeded,
	)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, domain.ErrExternalRoomNotFound)
	}

	wrapper := &RoomServiceWrapper{
		service:        service,
		metrics:        metrics,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("room service circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
		metrics.RecordCircuitBreakerTransition(breakerName, to.String())
	})

	return wrapper
}

var _ ports.RoomService = (*RoomServiceWrapper)(nil)

// CreateRoom and DeleteRoom are not retried: a call that timed out may
// still have taken effect. Restart drives its own recreate attempts.
func (w *RoomServiceWrapper) CreateRoom(ctx context.Context, req ports.CreateRoomRequest) (*ports.ExternalRoom, error) {
	return call(ctx, w, "create_room", req.ID, false, func(ctx context.Context) (*ports.ExternalRoom, error) {
		return w.service.CreateRoom(ctx, req)
	})
}

func (w *RoomServiceWrapper) GetRoom(ctx context.Context, id domain.RoomID) (*ports.ExternalRoom, error) {
	return call(ctx, w, "get_room", id, true, func(ctx context.Context) (*ports.ExternalRoom, error) {
		return w.service.GetRoom(ctx, id)
	})
}

func (w *RoomServiceWrapper) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	_, err := call(ctx, w, "delete_room", id, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.service.DeleteRoom(ctx, id)
	})
	return err
}

func (w *RoomServiceWrapper) ListParticipants(ctx context.Context, id domain.RoomID) ([]ports.Participant, error) {
	return call(ctx, w, "list_participants", id, true, func(ctx context.Context) ([]ports.Participant, error) {
		return w.service.ListParticipants(ctx, id)
	})
}

func (w *RoomServiceWrapper) ListRooms(ctx context.Context) ([]*ports.ExternalRoom, error) {
	return call(ctx, w, "list_rooms", "", true, func(ctx context.Context) ([]*ports.ExternalRoom, error) {
		return w.service.ListRooms(ctx)
	})
}

// MuteParticipant is not retried; a repeated mute after a partial failure
// could flip tracks the first call already handled.
func (w *RoomServiceWrapper) MuteParticipant(ctx context.Context, id domain.RoomID, identity domain.Identity, muted bool) error {
	_, err := call(ctx, w, "mute_participant", id, false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.service.MuteParticipant(ctx, id, identity, muted)
	})
	return err
}

func call[T any](
	ctx context.Context,
	w *RoomServiceWrapper,
	op string,
	id domain.RoomID,
	retryable bool,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, span := tracing.TraceRoomService(ctx, op, string(id))
	defer span.End()

	start := time.Now()
	attempt := func() (T, error) {
		return circuitbreaker.ExecuteWithResult(ctx, w.circuitBreaker, fn)
	}

	var result T
	var err error
	if retryable {
		result, err = retry.RetryWithResult(ctx, w.retryConfig, attempt)
	} else {
		result, err = attempt()
	}

	w.metrics.ObserveRoomServiceCall(op, time.Since(start), countedError(err))
	if countedError(err) != nil {
		tracing.RecordError(ctx, err)
		w.logger.Debugw("room service call failed",
			"operation", op,
			"room_id", id,
			"error", err,
		)
	}
	return result, err
}

// countedError hides not-found answers from error accounting.
func countedError(err error) error {
	if errors.Is(err, domain.ErrExternalRoomNotFound) {
		return nil
	}
	return err
}
