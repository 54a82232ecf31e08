package services

import (
	"context"
	"errors"
	"net/http"

	"nests/internal/core/domain"
	"nests/internal/core/ports"
	apperrors "nests/pkg/errors"
	"nests/pkg/nostr"
	"nests/pkg/utils"

	"go.uber.org/zap"
)

// RoleService accepts signed role events and answers effective-role
// queries.
type RoleService struct {
	store     ports.EventStore
	directory ports.RoomDirectory
	resolver  *RoleResolver
	issuer    *TokenIssuer
	metrics   ports.Metrics
	logger    *zap.SugaredLogger
}

// NewRoleService wires the service. store may be nil when role events are
// read from relays; Ingest is then unavailable.
func NewRoleService(
	store ports.EventStore,
	directory ports.RoomDirectory,
	resolver *RoleResolver,
	issuer *TokenIssuer,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *RoleService {
	return &RoleService{
		store:     store,
		directory: directory,
		resolver:  resolver,
		issuer:    issuer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Ingest verifies evt, checks that its author may perform the action and
// appends it. Returns false for an event that was already stored.
func (s *RoleService) Ingest(ctx context.Context, id domain.RoomID, evt *nostr.Event) (domain.RoleEvent, bool, error) {
	if s.store == nil {
		return domain.RoleEvent{}, false, apperrors.NewAppError(apperrors.ErrCodeInvalidInput,
			"role events are read from relays; publish there instead", http.StatusNotImplemented)
	}

	if err := nostr.Verify(evt); err != nil {
		s.metrics.RecordRoleEvent(0, "bad_signature")
		return domain.RoleEvent{}, false, apperrors.WrapError(err, apperrors.ErrCodeAuthBadSignature,
			"role event signature is invalid", http.StatusBadRequest)
	}

	roleEvt, err := domain.ParseRoleEvent(evt)
	if err != nil {
		s.metrics.RecordRoleEvent(0, "malformed")
		return domain.RoleEvent{}, false, apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	}
	if roleEvt.RoomRef != id {
		return domain.RoleEvent{}, false, apperrors.NewInvalidInputError("role event references another nest")
	}

	room, err := s.directory.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.RoleEvent{}, false, apperrors.NewDirectoryNotFoundError(string(id))
		}
		return domain.RoleEvent{}, false, apperrors.WrapError(err, apperrors.ErrCodeInternal, "directory unavailable", http.StatusInternalServerError)
	}

	if err := roleEvt.AuthorizedIn(room); err != nil {
		s.metrics.RecordRoleEvent(roleEvt.Kind, "forbidden")
		return domain.RoleEvent{}, false, apperrors.WrapError(err, apperrors.ErrCodeForbidden, err.Error(), http.StatusForbidden)
	}

	stored, err := s.store.Append(ctx, roleEvt)
	if err != nil {
		return domain.RoleEvent{}, false, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to store role event", http.StatusInternalServerError)
	}

	outcome := "stored"
	if !stored {
		outcome = "duplicate"
	}
	s.metrics.RecordRoleEvent(roleEvt.Kind, outcome)
	s.logger.Infow("role event ingested",
		"room_id", id,
		"kind", roleEvt.Kind.String(),
		"actor", utils.ShortKey(string(roleEvt.Actor)),
		"target", utils.ShortKey(string(roleEvt.Target)),
		"duplicate", !stored,
	)
	return roleEvt, stored, nil
}

// EffectiveRole returns the role identity would join room with.
func (s *RoleService) EffectiveRole(ctx context.Context, id domain.RoomID, identity domain.Identity) (*domain.ResolvedRole, error) {
	room, err := s.directory.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, apperrors.NewDirectoryNotFoundError(string(id))
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "directory unavailable", http.StatusInternalServerError)
	}

	res, err := s.resolver.ResolveParticipant(ctx, room, identity)
	if err != nil {
		return nil, apperrors.NewExternalServiceError(err, "failed to query role events")
	}
	resolved := s.issuer.RoleFor(room, identity, res)
	return &resolved, nil
}
