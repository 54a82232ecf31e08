package domain

import (
	"fmt"
	"time"

	"nests/pkg/nostr"
)

// EventKind is the closed set of role-changing actions.
type EventKind int

const (
	KindRequest EventKind = iota + 1
	KindCancel
	KindGrant
	KindDeny
	KindRevoke
	KindSelfRemove
	KindInvite
	KindAccept
	KindDecline
)

var kindNames = map[EventKind]string{
	KindRequest:    "request",
	KindCancel:     "cancel",
	KindGrant:      "grant",
	KindDeny:       "deny",
	KindRevoke:     "revoke",
	KindSelfRemove: "self_remove",
	KindInvite:     "invite",
	KindAccept:     "accept",
	KindDecline:    "decline",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Family groups kinds by the fold that consumes them.
type Family int

const (
	FamilyRequest Family = iota + 1
	FamilyPermission
	FamilyInvitation
)

func (k EventKind) Family() Family {
	switch k {
	case KindRequest, KindCancel:
		return FamilyRequest
	case KindGrant, KindDeny, KindRevoke, KindSelfRemove:
		return FamilyPermission
	case KindInvite, KindAccept, KindDecline:
		return FamilyInvitation
	}
	return 0
}

// RoleEvent is one immutable, already-verified role action.
type RoleEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	RoomRef     RoomID    `json:"room_ref"`
	RoomHost    Identity  `json:"room_host,omitempty"`
	Actor       Identity  `json:"actor"`
	Target      Identity  `json:"target"`
	CreatedAt   time.Time `json:"created_at"`
	Correlation string    `json:"correlation,omitempty"`
}

// NewerThan orders events by CreatedAt, then by event id so that equal
// timestamps still resolve the same way on every node.
func (e RoleEvent) NewerThan(other RoleEvent) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.After(other.CreatedAt)
	}
	return e.ID > other.ID
}

var statusKinds = map[int]map[string]EventKind{
	nostr.KindSpeakingRequest: {
		"requested": KindRequest,
		"cancelled": KindCancel,
	},
	nostr.KindSpeakingPermission: {
		"granted": KindGrant,
		"denied":  KindDeny,
		"revoked": KindRevoke,
		"removed": KindSelfRemove,
	},
	nostr.KindSpeakingInvitation: {
		"invited":  KindInvite,
		"accepted": KindAccept,
		"declined": KindDecline,
	},
}

// RoleEventKinds lists the Nostr kinds that carry role events.
func RoleEventKinds() []int {
	return []int{nostr.KindSpeakingRequest, nostr.KindSpeakingPermission, nostr.KindSpeakingInvitation}
}

// ParseRoleEvent maps a Nostr event onto a RoleEvent. The signature is not
// checked here.
func ParseRoleEvent(evt *nostr.Event) (RoleEvent, error) {
	statuses, ok := statusKinds[evt.Kind]
	if !ok {
		return RoleEvent{}, fmt.Errorf("%w: nostr kind %d", ErrUnknownEventKind, evt.Kind)
	}
	status := nostr.TagValue(evt.Tags, "status")
	kind, ok := statuses[status]
	if !ok {
		return RoleEvent{}, fmt.Errorf("%w: status %q on kind %d", ErrUnknownEventKind, status, evt.Kind)
	}

	ref := nostr.TagValue(evt.Tags, "a")
	if ref == "" {
		return RoleEvent{}, ErrMissingRoomRef
	}
	addr, err := nostr.ParseAddress(ref)
	if err != nil {
		return RoleEvent{}, fmt.Errorf("%w: %v", ErrMissingRoomRef, err)
	}
	if addr.Kind != nostr.KindAudioRoom || addr.Identifier == "" {
		return RoleEvent{}, fmt.Errorf("%w: %q is not an audio room", ErrMissingRoomRef, ref)
	}

	actor := Identity(evt.PubKey)
	target := Identity(nostr.TagValue(evt.Tags, "p"))
	switch kind {
	case KindRequest, KindCancel:
		target = actor
	case KindSelfRemove, KindAccept, KindDecline:
		// Answered by the participant themselves.
		if target == "" {
			target = actor
		}
	}
	if target == "" {
		return RoleEvent{}, fmt.Errorf("%w: %s event %s", ErrMissingTarget, kind, evt.ID)
	}

	return RoleEvent{
		ID:          evt.ID,
		Kind:        kind,
		RoomRef:     RoomID(addr.Identifier),
		RoomHost:    Identity(addr.Pubkey),
		Actor:       actor,
		Target:      target,
		CreatedAt:   evt.CreatedAt.Time(),
		Correlation: nostr.TagValue(evt.Tags, "e"),
	}, nil
}

// AuthorizedIn checks that the author of e may take its action in room.
// Participants answer for themselves; the host and admins act on others.
func (e RoleEvent) AuthorizedIn(room *Room) error {
	if e.RoomHost != "" && e.RoomHost != room.Owner {
		return fmt.Errorf("%w: event addresses a nest hosted by another key", ErrActorNotAllowed)
	}
	switch e.Kind {
	case KindRequest, KindCancel, KindAccept, KindDecline:
		if e.Actor != e.Target {
			return fmt.Errorf("%w: participants can only answer for themselves", ErrActorNotAllowed)
		}
	case KindSelfRemove:
		if e.Actor != e.Target && !room.IsAdmin(e.Actor) {
			return fmt.Errorf("%w: only the participant or a moderator can remove a speaker", ErrActorNotAllowed)
		}
	case KindGrant, KindDeny, KindRevoke, KindInvite:
		if !room.IsAdmin(e.Actor) {
			return fmt.Errorf("%w: only the host or an admin can %s", ErrActorNotAllowed, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownEventKind, e.Kind)
	}
	return nil
}
