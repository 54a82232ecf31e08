package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nests/internal/core/domain"
	apperrors "nests/pkg/errors"
	"nests/pkg/nostr"
	"nests/pkg/utils"
	"nests/pkg/validation"
)

// PermissionChange toggles direct grants for one participant. Nil fields
// are left alone.
type PermissionChange struct {
	Participant    domain.Identity `json:"participant"`
	CanPublish     *bool           `json:"can_publish,omitempty"`
	IsAdmin        *bool           `json:"is_admin,omitempty"`
	MuteMicrophone *bool           `json:"mute_microphone,omitempty"`
}

// RoomInfo is the public view of a nest.
type RoomInfo struct {
	Host             domain.Identity   `json:"host"`
	Speakers         []domain.Identity `json:"speakers"`
	Admins           []domain.Identity `json:"admins"`
	Link             string            `json:"link"`
	Status           domain.RoomStatus `json:"status"`
	Live             bool              `json:"live"`
	Recording        bool              `json:"recording"`
	ParticipantCount int               `json:"participantCount"`
	CreatedAt        time.Time         `json:"createdAt"`
	RestartedAt      *time.Time        `json:"restartedAt,omitempty"`
}

// SetStatus moves a nest forward through open, private and closed.
func (s *SessionCoordinator) SetStatus(ctx context.Context, id domain.RoomID, requester domain.Identity, status domain.RoomStatus) (*domain.Room, error) {
	if !status.Valid() {
		return nil, apperrors.NewInvalidInputError("status must be open, private or closed")
	}

	room, err := s.ownedRoom(ctx, id, requester, "only the host can change the nest status")
	if err != nil {
		return nil, err
	}
	if !room.Status.CanTransitionTo(status) {
		return nil, apperrors.WrapError(domain.ErrInvalidTransition, apperrors.ErrCodeInvalidInput,
			"cannot move nest from "+string(room.Status)+" to "+string(status), http.StatusBadRequest)
	}
	if room.Status == status {
		return room, nil
	}

	room.Status = status
	if err := s.commit(ctx, room); err != nil {
		return nil, err
	}

	s.logger.Infow("nest status changed", "room_id", id, "status", status)
	s.metrics.RecordLifecycle("set_status", "ok")
	return room, nil
}

// UpdatePermissions applies change on behalf of requester and reports
// whether the directory record changed. The host and admins may toggle
// speakers; only the host may toggle admins.
func (s *SessionCoordinator) UpdatePermissions(ctx context.Context, id domain.RoomID, requester domain.Identity, change PermissionChange) (bool, error) {
	if err := validation.ValidatePubkey(string(change.Participant)); err != nil {
		return false, apperrors.NewInvalidInputError("participant must be a hex pubkey")
	}
	if change.CanPublish == nil && change.IsAdmin == nil && change.MuteMicrophone == nil {
		return false, apperrors.NewInvalidInputError("no permission change requested")
	}

	room, err := s.directory.Get(ctx, id)
	if err != nil {
		return false, s.directoryError(err, id)
	}
	if !room.IsAdmin(requester) {
		return false, apperrors.NewForbiddenError("only the host or an admin can change permissions").
			WithContext("room_id", string(id))
	}
	if change.IsAdmin != nil && !room.IsOwner(requester) {
		return false, apperrors.NewForbiddenError("only the host can manage admins").
			WithContext("room_id", string(id))
	}

	var updated bool
	if change.CanPublish != nil {
		changed, err := room.SetSpeaker(change.Participant, *change.CanPublish)
		if err != nil {
			return false, s.permissionError(err)
		}
		updated = updated || changed
	}
	if change.IsAdmin != nil {
		changed, err := room.SetAdmin(change.Participant, *change.IsAdmin)
		if err != nil {
			return false, s.permissionError(err)
		}
		updated = updated || changed
	}

	if updated {
		if err := s.commit(ctx, room); err != nil {
			return false, err
		}
		s.logger.Infow("permissions updated",
			"room_id", id,
			"participant", utils.ShortKey(string(change.Participant)),
			"by", utils.ShortKey(string(requester)),
		)
	}

	if change.MuteMicrophone != nil {
		mctx, cancel := s.withTimeout(ctx)
		err := s.rooms.MuteParticipant(mctx, id, change.Participant, *change.MuteMicrophone)
		cancel()
		if err != nil {
			s.logger.Warnw("failed to change participant mute",
				"room_id", id,
				"participant", utils.ShortKey(string(change.Participant)),
				"error", err,
			)
		}
	}

	s.metrics.RecordLifecycle("update_permissions", "ok")
	return updated, nil
}

// Info combines the directory record with the media room's live state.
// Media service failures degrade to an offline view.
func (s *SessionCoordinator) Info(ctx context.Context, id domain.RoomID) (*RoomInfo, error) {
	room, err := s.directory.Get(ctx, id)
	if err != nil {
		return nil, s.directoryError(err, id)
	}

	link, err := nostr.EncodeNaddr(nostr.Address{
		Kind:       nostr.KindAudioRoom,
		Pubkey:     string(room.Owner),
		Identifier: string(room.ID),
		Relays:     room.Relays,
	})
	if err != nil {
		link = nostr.RoomAddress(string(room.Owner), string(room.ID)).String()
	}

	info := &RoomInfo{
		Host:        room.Owner,
		Speakers:    room.Speakers,
		Admins:      room.Admins,
		Link:        link,
		Status:      room.Status,
		CreatedAt:   room.CreatedAt,
		RestartedAt: room.RestartedAt,
	}

	ext, err := s.getExternal(ctx, id)
	switch {
	case err == nil:
		info.Live = true
		info.Recording = ext.ActiveRecording
		info.ParticipantCount = int(ext.NumParticipants)
	case errors.Is(err, domain.ErrExternalRoomNotFound):
	default:
		s.logger.Warnw("failed to read media room state", "room_id", id, "error", err)
	}

	return info, nil
}

// commit writes room back only if no restart happened since it was read.
func (s *SessionCoordinator) commit(ctx context.Context, room *domain.Room) error {
	err := s.directory.PutIfGeneration(ctx, room, room.Generation, s.cfg.DirectoryTTL)
	if errors.Is(err, domain.ErrGenerationConflict) {
		return apperrors.NewConflictError("nest changed concurrently").WithContext("room_id", string(room.ID))
	}
	if err != nil {
		return s.directoryError(err, room.ID)
	}
	return nil
}

func (s *SessionCoordinator) permissionError(err error) error {
	if errors.Is(err, domain.ErrOwnerImmutable) {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "the host keeps speaker and admin rights", http.StatusBadRequest)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to apply permissions", http.StatusInternalServerError)
}
