package services

import (
	"context"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"go.uber.org/zap"
)

// Resolve folds events into the negotiated state of participant in room.
// The result depends only on the set of events, never on their order.
func Resolve(room domain.RoomID, participant domain.Identity, events []domain.RoleEvent) domain.Resolution {
	var request, permission, invitation *domain.RoleEvent

	for i := range events {
		evt := events[i]
		if evt.RoomRef != room || evt.Target != participant {
			continue
		}

		var latest **domain.RoleEvent
		switch evt.Kind.Family() {
		case domain.FamilyRequest:
			// Requests only count when made by the participant.
			if evt.Actor != participant {
				continue
			}
			latest = &request
		case domain.FamilyPermission:
			latest = &permission
		case domain.FamilyInvitation:
			latest = &invitation
		default:
			continue
		}
		if *latest == nil || evt.NewerThan(**latest) {
			e := evt
			*latest = &e
		}
	}

	res := domain.Resolution{
		LatestRequest:    request,
		LatestPermission: permission,
		LatestInvitation: invitation,
	}

	res.ActivePermission = permission != nil && permission.Kind == domain.KindGrant
	res.PendingInvitation = invitation != nil && invitation.Kind == domain.KindInvite

	if request != nil && request.Kind == domain.KindRequest {
		answered := permission != nil &&
			permission.CreatedAt.After(request.CreatedAt) &&
			(permission.Kind == domain.KindGrant || permission.Kind == domain.KindDeny)
		res.Pending = !answered
		res.Denied = answered && permission.Kind == domain.KindDeny
	}

	return res
}

// MaxFutureSkew bounds how far ahead of the local clock a role event may be
// dated and still count.
const MaxFutureSkew = 15 * time.Minute

// RoleResolver queries an EventSource and folds the result.
type RoleResolver struct {
	source ports.EventSource
	maxAge time.Duration
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewRoleResolver returns a resolver that ignores events older than maxAge.
// A zero maxAge keeps every event.
func NewRoleResolver(source ports.EventSource, maxAge time.Duration, logger *zap.SugaredLogger) *RoleResolver {
	return &RoleResolver{
		source: source,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// ResolveParticipant folds the role events of room that concern
// participant. Events whose author may not take their action in room, and
// events dated more than MaxFutureSkew ahead, never reach the fold.
func (r *RoleResolver) ResolveParticipant(ctx context.Context, room *domain.Room, participant domain.Identity) (domain.Resolution, error) {
	events, err := r.source.QueryRoleEvents(ctx, room.ID)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := r.now()
	var cutoff time.Time
	if r.maxAge > 0 {
		cutoff = now.Add(-r.maxAge)
	}
	horizon := now.Add(MaxFutureSkew)
	kept := events[:0:0]
	dropped := 0
	for _, evt := range events {
		if evt.CreatedAt.Before(cutoff) {
			continue
		}
		if evt.CreatedAt.After(horizon) {
			dropped++
			continue
		}
		if err := evt.AuthorizedIn(room); err != nil {
			dropped++
			continue
		}
		kept = append(kept, evt)
	}

	res := Resolve(room.ID, participant, kept)
	r.logger.Debugw("resolved participant",
		"room_id", room.ID,
		"participant", participant,
		"events", len(kept),
		"rejected", dropped,
		"pending", res.Pending,
		"active_permission", res.ActivePermission,
		"causes", res.Causes(),
	)
	return res, nil
}
