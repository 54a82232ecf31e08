package domain

import "time"

type Capabilities struct {
	CanPublish   bool `json:"can_publish"`
	CanSubscribe bool `json:"can_subscribe"`
	IsAdmin      bool `json:"is_admin"`
	CanRecord    bool `json:"can_record"`
}

// CapabilitiesFor maps a role onto media capabilities.
func CapabilitiesFor(role Role) Capabilities {
	switch role {
	case RoleHost, RoleAdmin:
		return Capabilities{CanPublish: true, CanSubscribe: true, IsAdmin: true, CanRecord: true}
	case RoleSpeaker:
		return Capabilities{CanPublish: true, CanSubscribe: true}
	default:
		return Capabilities{CanSubscribe: true}
	}
}

type SessionToken struct {
	Identity     Identity     `json:"identity"`
	RoomID       RoomID       `json:"room_id"`
	Role         Role         `json:"role"`
	Capabilities Capabilities `json:"capabilities"`
	Token        string       `json:"token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}
