package domain

import (
	"slices"
	"time"
)

type RoomID string

// Identity is a hex pubkey, or a guest-* identifier for anonymous listeners.
type Identity string

type RoomStatus string

const (
	StatusOpen    RoomStatus = "open"
	StatusPrivate RoomStatus = "private"
	StatusClosed  RoomStatus = "closed"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPrivate, StatusClosed:
		return true
	}
	return false
}

func (s RoomStatus) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusPrivate:
		return 1
	case StatusClosed:
		return 2
	}
	return -1
}

// CanTransitionTo allows only forward moves open -> private -> closed.
// Staying put is allowed.
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Room is the directory record of a nest.
type Room struct {
	ID          RoomID     `json:"id"`
	Owner       Identity   `json:"host"`
	Admins      []Identity `json:"admins"`
	Speakers    []Identity `json:"speakers"`
	Relays      []string   `json:"relays"`
	HLS         bool       `json:"hls_stream"`
	Status      RoomStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	RestartedAt *time.Time `json:"restarted_at,omitempty"`
	// Generation advances on every restart and fences stale restarts.
	Generation uint64 `json:"generation"`
}

// NewRoom seeds admins and speakers with the owner.
func NewRoom(id RoomID, owner Identity, relays []string, hls bool, now time.Time) *Room {
	return &Room{
		ID:         id,
		Owner:      owner,
		Admins:     []Identity{owner},
		Speakers:   []Identity{owner},
		Relays:     slices.Clone(relays),
		HLS:        hls,
		Status:     StatusOpen,
		CreatedAt:  now,
		Generation: 1,
	}
}

func (r *Room) IsOwner(id Identity) bool {
	return id != "" && r.Owner == id
}

func (r *Room) IsAdmin(id Identity) bool {
	return slices.Contains(r.Admins, id)
}

func (r *Room) IsSpeaker(id Identity) bool {
	return slices.Contains(r.Speakers, id)
}

// SetSpeaker adds or removes id from the speaker set and reports whether
// the set changed.
func (r *Room) SetSpeaker(id Identity, on bool) (bool, error) {
	return toggle(&r.Speakers, id, on, r.Owner)
}

// SetAdmin adds or removes id from the admin set and reports whether the
// set changed.
func (r *Room) SetAdmin(id Identity, on bool) (bool, error) {
	return toggle(&r.Admins, id, on, r.Owner)
}

func toggle(set *[]Identity, id Identity, on bool, owner Identity) (bool, error) {
	present := slices.Contains(*set, id)
	switch {
	case on && !present:
		*set = append(*set, id)
		return true, nil
	case !on && present:
		if id == owner {
			return false, ErrOwnerImmutable
		}
		*set = slices.DeleteFunc(*set, func(x Identity) bool { return x == id })
		return true, nil
	}
	return false, nil
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	c := *r
	c.Admins = slices.Clone(r.Admins)
	c.Speakers = slices.Clone(r.Speakers)
	c.Relays = slices.Clone(r.Relays)
	if r.RestartedAt != nil {
		t := *r.RestartedAt
		c.RestartedAt = &t
	}
	return &c
}
