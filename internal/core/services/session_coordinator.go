package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	apperrors "nests/pkg/errors"
	"nests/pkg/retry"
	"nests/pkg/utils"
	"nests/pkg/validation"

	"go.uber.org/zap"
)

type SessionConfig struct {
	LiveKitURL       string
	HLSBaseURL       string
	MaxParticipants  uint32
	EmptyTimeout     time.Duration
	DepartureTimeout time.Duration
	DirectoryTTL     time.Duration
	RequestTimeout   time.Duration
	Restart          retry.Policy
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		LiveKitURL:       "ws://localhost:7880",
		MaxParticipants:  500,
		EmptyTimeout:     30 * time.Minute,
		DepartureTimeout: time.Minute,
		DirectoryTTL:     24 * time.Hour,
		RequestTimeout:   10 * time.Second,
		Restart:          retry.RestartPolicy(2*time.Second, 1),
	}
}

// SessionResult is what a lifecycle operation hands back to the caller.
type SessionResult struct {
	RoomID    domain.RoomID        `json:"roomId"`
	Endpoints []string             `json:"endpoints"`
	Token     *domain.SessionToken `json:"-"`
	Message   string               `json:"message,omitempty"`
}

type CreateRequest struct {
	Relays []string
	HLS    bool
}

// roomMetadata is stored on the media room so that it can be traced back
// to the directory without a lookup.
type roomMetadata struct {
	NestID    domain.RoomID   `json:"nestId"`
	Host      domain.Identity `json:"host"`
	Relays    []string        `json:"relays"`
	CreatedAt int64           `json:"createdAt"`
}

// SessionCoordinator owns the room lifecycle across the directory and the
// media room service. The two stores are not updated atomically.
type SessionCoordinator struct {
	directory ports.RoomDirectory
	rooms     ports.RoomService
	issuer    *TokenIssuer
	metrics   ports.Metrics
	locks     ports.RoomLocker
	events    ports.EventStore
	logger    *zap.SugaredLogger
	cfg       SessionConfig
	now       func() time.Time
}

func NewSessionCoordinator(
	directory ports.RoomDirectory,
	rooms ports.RoomService,
	issuer *TokenIssuer,
	metrics ports.Metrics,
	cfg SessionConfig,
	logger *zap.SugaredLogger,
) *SessionCoordinator {
	return &SessionCoordinator{
		directory: directory,
		rooms:     rooms,
		issuer:    issuer,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// UseLocks makes Restart take a per-room lock. Without one, concurrent
// restarts are still fenced by the directory generation but may each
// tear down the media room.
func (s *SessionCoordinator) UseLocks(locks ports.RoomLocker) {
	s.locks = locks
}

// UseEventStore makes Delete and room_finished drop the stored role events
// of the nest along with its directory record.
func (s *SessionCoordinator) UseEventStore(events ports.EventStore) {
	s.events = events
}

// Create provisions a media room, records it in the directory and returns
// a host token for owner.
func (s *SessionCoordinator) Create(ctx context.Context, owner domain.Identity, req CreateRequest) (*SessionResult, error) {
	if err := validation.ValidateRelays(req.Relays); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	}

	id := domain.RoomID(utils.GenerateRoomID())
	now := s.now()

	if err := s.createExternal(ctx, id, owner, req.Relays, now); err != nil {
		s.metrics.RecordLifecycle("create", "external_error")
		return nil, apperrors.NewExternalServiceError(err, "failed to create media room")
	}

	room := domain.NewRoom(id, owner, req.Relays, req.HLS, now)
	if err := s.directory.Put(ctx, room, s.cfg.DirectoryTTL); err != nil {
		// The media room now exists without a directory record and will
		// expire on its empty timeout.
		s.logger.Errorw("directory write failed after media room creation",
			"room_id", id,
			"owner", utils.ShortKey(string(owner)),
			"error", err,
		)
		s.metrics.RecordLifecycle("create", "directory_error")
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to record nest", http.StatusInternalServerError)
	}

	token, err := s.issuer.Issue(id, owner, domain.RoleHost)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError)
	}

	s.logger.Infow("nest created",
		"room_id", id,
		"owner", utils.ShortKey(string(owner)),
		"relays", len(req.Relays),
		"hls", req.HLS,
	)
	s.metrics.RecordLifecycle("create", "ok")

	return &SessionResult{
		RoomID:    id,
		Endpoints: s.Endpoints(room),
		Token:     token,
	}, nil
}

// Restart tears down and recreates the media room of a nest owned by
// requester. A concurrent restart that commits first makes this one fail
// with a conflict.
func (s *SessionCoordinator) Restart(ctx context.Context, id domain.RoomID, requester domain.Identity) (*SessionResult, error) {
	room, err := s.ownedRoom(ctx, id, requester, "only the host can restart the nest")
	if err != nil {
		s.metrics.RecordLifecycle("restart", outcomeOf(err))
		return nil, err
	}
	generation := room.Generation

	unlock, busy := s.lockRestart(ctx, id)
	if busy {
		s.metrics.RecordLifecycle("restart", "conflict")
		return nil, apperrors.NewConflictError("nest restart already in progress").WithContext("room_id", string(id))
	}
	defer unlock()

	_, err = s.getExternal(ctx, id)
	switch {
	case err == nil:
		if err := s.deleteExternal(ctx, id); err != nil && !errors.Is(err, domain.ErrExternalRoomNotFound) {
			s.logger.Warnw("failed to delete media room before restart",
				"room_id", id,
				"error", err,
			)
		}
		if err := s.cfg.Restart.Wait(ctx); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "restart cancelled", http.StatusInternalServerError)
		}
	case errors.Is(err, domain.ErrExternalRoomNotFound):
		s.logger.Infow("media room already gone, recreating", "room_id", id)
	default:
		s.metrics.RecordLifecycle("restart", "external_error")
		return nil, apperrors.NewExternalServiceError(err, "failed to look up media room")
	}

	// Bail out before recreating if another restart already committed.
	current, err := s.directory.Get(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		// Tearing the media room down can make the service report it
		// finished, which removes the record without the lock.
		s.logger.Warnw("directory record vanished during restart, reinstating", "room_id", id)
		current, err = room, s.directory.Put(ctx, room, s.cfg.DirectoryTTL)
	}
	if err != nil {
		s.metrics.RecordLifecycle("restart", "directory_error")
		return nil, s.directoryError(err, id)
	}
	if current.Generation != generation {
		s.metrics.RecordLifecycle("restart", "conflict")
		return nil, apperrors.NewConflictError("nest was restarted concurrently").WithContext("room_id", string(id))
	}

	now := s.now()
	err = s.cfg.Restart.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			s.logger.Warnw("retrying media room creation", "room_id", id, "attempt", attempt)
		}
		return s.createExternal(ctx, id, current.Owner, current.Relays, now)
	})
	if err != nil {
		s.metrics.RecordLifecycle("restart", "external_error")
		return nil, apperrors.NewExternalServiceError(err, "failed to recreate media room")
	}

	next := current.Clone()
	next.RestartedAt = &now
	next.Status = domain.StatusOpen
	next.Generation = generation + 1
	if err := s.directory.PutIfGeneration(ctx, next, generation, s.cfg.DirectoryTTL); err != nil {
		if errors.Is(err, domain.ErrGenerationConflict) {
			s.metrics.RecordLifecycle("restart", "conflict")
			return nil, apperrors.NewConflictError("nest was restarted concurrently").WithContext("room_id", string(id))
		}
		s.metrics.RecordLifecycle("restart", "directory_error")
		return nil, s.directoryError(err, id)
	}

	token, err := s.issuer.Issue(id, requester, domain.RoleHost)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError)
	}

	s.logger.Infow("nest restarted",
		"room_id", id,
		"generation", next.Generation,
	)
	s.metrics.RecordLifecycle("restart", "ok")

	return &SessionResult{
		RoomID:    id,
		Endpoints: s.Endpoints(next),
		Token:     token,
		Message:   "Nest restarted successfully",
	}, nil
}

// Delete removes the media room and the directory record. Media service
// failures are logged; the directory record is removed regardless.
func (s *SessionCoordinator) Delete(ctx context.Context, id domain.RoomID, requester domain.Identity) error {
	if _, err := s.ownedRoom(ctx, id, requester, "only the host can delete the nest"); err != nil {
		s.metrics.RecordLifecycle("delete", outcomeOf(err))
		return err
	}

	unlock, busy := s.lockRestart(ctx, id)
	if busy {
		s.metrics.RecordLifecycle("delete", "conflict")
		return apperrors.NewConflictError("nest restart in progress").WithContext("room_id", string(id))
	}
	defer unlock()

	if err := s.deleteExternal(ctx, id); err != nil {
		if errors.Is(err, domain.ErrExternalRoomNotFound) {
			s.logger.Debugw("media room already gone", "room_id", id)
		} else {
			s.logger.Warnw("failed to delete media room", "room_id", id, "error", err)
		}
	}

	if err := s.directory.Delete(ctx, id); err != nil {
		s.metrics.RecordLifecycle("delete", "directory_error")
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to delete nest", http.StatusInternalServerError)
	}
	s.forgetEvents(ctx, id)

	s.logger.Infow("nest deleted", "room_id", id)
	s.metrics.RecordLifecycle("delete", "ok")
	return nil
}

// HandleRoomFinished drops the directory record of a media room the
// service has closed on its own. startedAt is the creation time of the
// finished media room, zero when unknown. A nest that is restarting, or
// that was restarted after that media room started, is kept.
func (s *SessionCoordinator) HandleRoomFinished(ctx context.Context, id domain.RoomID, startedAt time.Time) error {
	unlock, busy := s.lockRestart(ctx, id)
	if busy {
		s.logger.Infow("room finished during restart, keeping directory record", "room_id", id)
		s.metrics.RecordLifecycle("finish", "restarting")
		return nil
	}
	defer unlock()

	room, err := s.directory.Get(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up finished room %s: %w", id, err)
	}
	// Creation times are whole seconds.
	if !startedAt.IsZero() && room.RestartedAt != nil && startedAt.Before(room.RestartedAt.Truncate(time.Second)) {
		s.logger.Infow("ignoring room_finished for a media room replaced by a restart",
			"room_id", id,
			"started_at", startedAt,
			"restarted_at", *room.RestartedAt,
		)
		s.metrics.RecordLifecycle("finish", "stale")
		return nil
	}

	if err := s.directory.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete finished room %s: %w", id, err)
	}
	s.forgetEvents(ctx, id)
	s.logger.Infow("room finished, directory record removed", "room_id", id)
	s.metrics.RecordLifecycle("finish", "ok")
	return nil
}

// HandleParticipantJoined extends the directory TTL of a room in use.
func (s *SessionCoordinator) HandleParticipantJoined(ctx context.Context, id domain.RoomID) error {
	err := s.directory.Touch(ctx, id, s.cfg.DirectoryTTL)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return fmt.Errorf("touch room %s: %w", id, err)
	}
	return nil
}

// Room returns the directory record of id.
func (s *SessionCoordinator) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := s.directory.Get(ctx, id)
	if err != nil {
		return nil, s.directoryError(err, id)
	}
	return room, nil
}

// Endpoints lists the client transports for room.
func (s *SessionCoordinator) Endpoints(room *domain.Room) []string {
	host := strings.TrimPrefix(strings.TrimPrefix(s.cfg.LiveKitURL, "wss://"), "ws://")
	endpoints := []string{"wss+livekit://" + host}
	if room.HLS && s.cfg.HLSBaseURL != "" {
		endpoints = append(endpoints, fmt.Sprintf("%s/%s/live.m3u8", strings.TrimSuffix(s.cfg.HLSBaseURL, "/"), room.ID))
	}
	return endpoints
}

func (s *SessionCoordinator) ownedRoom(ctx context.Context, id domain.RoomID, requester domain.Identity, denied string) (*domain.Room, error) {
	room, err := s.directory.Get(ctx, id)
	if err != nil {
		return nil, s.directoryError(err, id)
	}
	if !room.IsOwner(requester) {
		s.logger.Warnw("lifecycle operation by non-owner",
			"room_id", id,
			"requester", utils.ShortKey(string(requester)),
		)
		return nil, apperrors.NewForbiddenError(denied).WithContext("room_id", string(id))
	}
	return room, nil
}

// lockRestart takes the per-room restart lock. busy reports that someone
// else holds it. Lock backend errors are logged and treated as free; the
// directory generation still fences concurrent restarts.
func (s *SessionCoordinator) lockRestart(ctx context.Context, id domain.RoomID) (unlock func(), busy bool) {
	noop := func() {}
	if s.locks == nil {
		return noop, false
	}
	unlock, ok, err := s.locks.TryLock(ctx, "restart:"+string(id))
	switch {
	case err != nil:
		s.logger.Warnw("restart lock unavailable", "room_id", id, "error", err)
		return noop, false
	case !ok:
		return noop, true
	}
	return unlock, false
}

func (s *SessionCoordinator) forgetEvents(ctx context.Context, id domain.RoomID) {
	if s.events == nil {
		return
	}
	if err := s.events.Forget(ctx, id); err != nil {
		s.logger.Warnw("failed to drop role events", "room_id", id, "error", err)
	}
}

func (s *SessionCoordinator) directoryError(err error, id domain.RoomID) error {
	if errors.Is(err, domain.ErrRoomNotFound) {
		return apperrors.NewDirectoryNotFoundError(string(id))
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "directory unavailable", http.StatusInternalServerError)
}

func (s *SessionCoordinator) createExternal(ctx context.Context, id domain.RoomID, owner domain.Identity, relays []string, createdAt time.Time) error {
	meta, err := json.Marshal(roomMetadata{
		NestID:    id,
		Host:      owner,
		Relays:    relays,
		CreatedAt: createdAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode room metadata: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.rooms.CreateRoom(ctx, ports.CreateRoomRequest{
		ID:               id,
		MaxParticipants:  s.cfg.MaxParticipants,
		EmptyTimeout:     s.cfg.EmptyTimeout,
		DepartureTimeout: s.cfg.DepartureTimeout,
		Metadata:         string(meta),
	})
	return err
}

func (s *SessionCoordinator) getExternal(ctx context.Context, id domain.RoomID) (*ports.ExternalRoom, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.rooms.GetRoom(ctx, id)
}

func (s *SessionCoordinator) deleteExternal(ctx context.Context, id domain.RoomID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.rooms.DeleteRoom(ctx, id)
}

func (s *SessionCoordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// outcomeOf turns an error into a low-cardinality metric label.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return strings.ToLower(string(appErr.Code))
	}
	return "error"
}
