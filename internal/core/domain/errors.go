package domain

import "errors"

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrExternalRoomNotFound = errors.New("external room not found")
	ErrGenerationConflict   = errors.New("room generation changed concurrently")
	ErrOwnerImmutable       = errors.New("owner cannot be removed from admins or speakers")
	ErrInvalidTransition    = errors.New("invalid room status transition")
	ErrUnknownEventKind     = errors.New("unknown role event kind")
	ErrMissingTarget        = errors.New("role event has no target")
	ErrMissingRoomRef       = errors.New("role event has no room reference")
	ErrActorNotAllowed      = errors.New("event author may not take this action")
)
