package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	apperrors "nests/pkg/errors"
	"nests/pkg/utils"

	"go.uber.org/zap"
)

const (
	JoinPathPrivileged = "privileged"
	JoinPathGuest      = "guest"
)

type JoinRequest struct {
	RoomID domain.RoomID
	// AuthHeader is the raw Authorization header; empty for anonymous callers.
	AuthHeader string
	Method     string
	Path       string
}

type JoinResult struct {
	Path     string               `json:"path"`
	Token    *domain.SessionToken `json:"token"`
	Resolved *domain.ResolvedRole `json:"resolved,omitempty"`
}

// JoinService admits callers to a nest, falling back from the privileged
// path to the guest path when the room cannot be found.
type JoinService struct {
	auth           *RequestAuthenticator
	directory      ports.RoomDirectory
	rooms          ports.RoomService
	resolver       *RoleResolver
	issuer         *TokenIssuer
	metrics        ports.Metrics
	logger         *zap.SugaredLogger
	requestTimeout time.Duration
}

func NewJoinService(
	auth *RequestAuthenticator,
	directory ports.RoomDirectory,
	rooms ports.RoomService,
	resolver *RoleResolver,
	issuer *TokenIssuer,
	metrics ports.Metrics,
	requestTimeout time.Duration,
	logger *zap.SugaredLogger,
) *JoinService {
	return &JoinService{
		auth:           auth,
		directory:      directory,
		rooms:          rooms,
		resolver:       resolver,
		issuer:         issuer,
		metrics:        metrics,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// Join authenticates the caller if credentials are present and admits
// them. Authentication failures are returned as-is and never fall back.
func (s *JoinService) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.AuthHeader == "" {
		return s.JoinGuest(ctx, req.RoomID)
	}

	identity, err := s.auth.AuthenticateHeader(req.AuthHeader, req.Method, req.Path)
	if err != nil {
		s.metrics.RecordJoin(JoinPathPrivileged, "auth_failed")
		return nil, err
	}

	res, err := s.JoinPrivileged(ctx, req.RoomID, identity)
	if err == nil {
		return res, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	s.logger.Infow("privileged join found no room, trying guest path",
		"room_id", req.RoomID,
		"identity", utils.ShortKey(string(identity)),
		"reason", outcomeOf(err),
	)

	res, guestErr := s.JoinGuest(ctx, req.RoomID)
	if guestErr == nil {
		return res, nil
	}
	if !apperrors.IsNotFound(guestErr) {
		return nil, guestErr
	}

	if s.directoryActive(ctx, req.RoomID) {
		s.logger.Errorw("room is active in the directory but both join paths failed",
			"room_id", req.RoomID,
			"privileged_error", err,
			"guest_error", guestErr,
		)
		s.metrics.RecordSystemicInconsistency(req.RoomID)
		return nil, apperrors.NewSystemicInconsistencyError(string(req.RoomID))
	}
	return nil, guestErr
}

// JoinPrivileged admits an authenticated identity with the role the
// directory and role events give it.
func (s *JoinService) JoinPrivileged(ctx context.Context, id domain.RoomID, identity domain.Identity) (*JoinResult, error) {
	room, err := s.directory.Get(ctx, id)
	if err != nil {
		s.metrics.RecordJoin(JoinPathPrivileged, "directory_miss")
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, apperrors.NewDirectoryNotFoundError(string(id))
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "directory unavailable", http.StatusInternalServerError)
	}

	if err := s.checkExternal(ctx, id); err != nil {
		s.metrics.RecordJoin(JoinPathPrivileged, "external_miss")
		return nil, err
	}

	resolution, err := s.resolver.ResolveParticipant(ctx, room, identity)
	if err != nil {
		// Direct grants still apply without the event log.
		s.logger.Warnw("role events unavailable, using directory grants only",
			"room_id", id,
			"error", err,
		)
		resolution = domain.Resolution{}
	}
	resolved := s.issuer.RoleFor(room, identity, resolution)

	if room.Status == domain.StatusClosed && !room.IsAdmin(identity) {
		s.metrics.RecordJoin(JoinPathPrivileged, "closed")
		return nil, apperrors.NewForbiddenError("nest is closed").WithContext("room_id", string(id))
	}

	token, err := s.issuer.Issue(id, identity, resolved.Role)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError)
	}

	s.logger.Infow("participant joined",
		"room_id", id,
		"identity", utils.ShortKey(string(identity)),
		"role", resolved.Role,
		"source", resolved.Source,
	)
	s.metrics.RecordJoin(JoinPathPrivileged, "ok")
	return &JoinResult{Path: JoinPathPrivileged, Token: token, Resolved: &resolved}, nil
}

// JoinGuest admits an anonymous listener as long as the media room is
// alive. The directory is only consulted to honour private and closed
// rooms.
func (s *JoinService) JoinGuest(ctx context.Context, id domain.RoomID) (*JoinResult, error) {
	if err := s.checkExternal(ctx, id); err != nil {
		s.metrics.RecordJoin(JoinPathGuest, "external_miss")
		return nil, err
	}

	if room, err := s.directory.Get(ctx, id); err == nil && room.Status != domain.StatusOpen {
		s.metrics.RecordJoin(JoinPathGuest, string(room.Status))
		return nil, apperrors.NewForbiddenError("nest does not admit guests").WithContext("room_id", string(id))
	}

	token, err := s.issuer.IssueGuest(id)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError)
	}

	s.logger.Infow("guest joined", "room_id", id, "identity", token.Identity)
	s.metrics.RecordJoin(JoinPathGuest, "ok")
	return &JoinResult{Path: JoinPathGuest, Token: token}, nil
}

func (s *JoinService) checkExternal(ctx context.Context, id domain.RoomID) error {
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	_, err := s.rooms.GetRoom(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrExternalRoomNotFound):
		return apperrors.NewExternalNotFoundError(string(id))
	default:
		return apperrors.NewExternalServiceError(err, "failed to reach media service")
	}
}

// directoryActive is the independent status check used before reporting
// an inconsistency.
func (s *JoinService) directoryActive(ctx context.Context, id domain.RoomID) bool {
	room, err := s.directory.Get(ctx, id)
	return err == nil && room.Status != domain.StatusClosed
}
