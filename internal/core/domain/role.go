package domain

type Role string

const (
	RoleHost     Role = "host"
	RoleAdmin    Role = "admin"
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
	RoleGuest    Role = "guest"
)

// Resolution is the negotiated state of one participant, folded from the
// room's role events.
type Resolution struct {
	Pending           bool `json:"pending"`
	Denied            bool `json:"denied"`
	ActivePermission  bool `json:"active_permission"`
	PendingInvitation bool `json:"pending_invitation"`

	LatestRequest    *RoleEvent `json:"latest_request,omitempty"`
	LatestPermission *RoleEvent `json:"latest_permission,omitempty"`
	LatestInvitation *RoleEvent `json:"latest_invitation,omitempty"`
}

// Causes returns the ids of the events that produced the resolution.
func (r Resolution) Causes() []string {
	var ids []string
	for _, e := range []*RoleEvent{r.LatestRequest, r.LatestPermission, r.LatestInvitation} {
		if e != nil {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// ResolvedRole is the effective role together with its provenance.
type ResolvedRole struct {
	Role Role `json:"role"`
	// Source is "owner", "directory", "events" or "default".
	Source     string     `json:"source"`
	Resolution Resolution `json:"resolution"`
}
