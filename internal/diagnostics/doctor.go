// Package diagnostics cross-checks the room directory against the media
// room service and exercises the join endpoint the way a client would.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"nests/internal/core/domain"
	"nests/internal/core/ports"

	"go.uber.org/zap"
)

type FindingKind string

const (
	// FindingMissingExternal is a directory room the media service does not
	// know. Joins to it fail with a systemic inconsistency.
	FindingMissingExternal FindingKind = "missing_external"
	// FindingOrphanExternal is a media room with no directory record, e.g.
	// a create whose directory write failed.
	FindingOrphanExternal FindingKind = "orphan_external"
	// FindingClosedButLive is a closed room that still has participants.
	FindingClosedButLive FindingKind = "closed_but_live"
)

type Finding struct {
	RoomID       domain.RoomID `json:"roomId"`
	Kind         FindingKind   `json:"kind"`
	Detail       string        `json:"detail"`
	Participants uint32        `json:"participants,omitempty"`
}

type Report struct {
	CheckedAt      time.Time   `json:"checkedAt"`
	DirectoryRooms int         `json:"directoryRooms"`
	ExternalRooms  int         `json:"externalRooms"`
	Findings       []Finding   `json:"findings"`
	JoinChecks     []JoinCheck `json:"joinChecks,omitempty"`
}

// Healthy reports whether no findings or failed join checks were recorded.
func (r *Report) Healthy() bool {
	if len(r.Findings) > 0 {
		return false
	}
	for _, p := range r.JoinChecks {
		if !p.OK() {
			return false
		}
	}
	return true
}

type Doctor struct {
	directory ports.RoomDirectory
	rooms     ports.RoomService
	logger    *zap.SugaredLogger
}

func NewDoctor(directory ports.RoomDirectory, rooms ports.RoomService, logger *zap.SugaredLogger) *Doctor {
	return &Doctor{directory: directory, rooms: rooms, logger: logger}
}

// Check lists both stores and reports every room they disagree on.
func (d *Doctor) Check(ctx context.Context) (*Report, error) {
	records, err := d.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	external, err := d.rooms.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list media rooms: %w", err)
	}

	live := make(map[domain.RoomID]*ports.ExternalRoom, len(external))
	for _, room := range external {
		live[domain.RoomID(room.Name)] = room
	}

	report := &Report{
		CheckedAt:      time.Now(),
		DirectoryRooms: len(records),
		ExternalRooms:  len(external),
		Findings:       []Finding{},
	}

	known := make(map[domain.RoomID]bool, len(records))
	for _, room := range records {
		known[room.ID] = true
		ext, ok := live[room.ID]
		switch {
		case !ok && room.Status != domain.StatusClosed:
			report.Findings = append(report.Findings, Finding{
				RoomID: room.ID,
				Kind:   FindingMissingExternal,
				Detail: fmt.Sprintf("directory says %s, media service has no room", room.Status),
			})
		case ok && room.Status == domain.StatusClosed && ext.NumParticipants > 0:
			report.Findings = append(report.Findings, Finding{
				RoomID:       room.ID,
				Kind:         FindingClosedButLive,
				Detail:       "room is closed but participants are still connected",
				Participants: ext.NumParticipants,
			})
		}
	}

	for id, ext := range live {
		if known[id] {
			continue
		}
		detail := "no directory record"
		if nestID := metadataNestID(ext.Metadata); nestID != "" && nestID != id {
			detail = fmt.Sprintf("no directory record, metadata names nest %s", nestID)
		}
		report.Findings = append(report.Findings, Finding{
			RoomID:       id,
			Kind:         FindingOrphanExternal,
			Detail:       detail,
			Participants: ext.NumParticipants,
		})
	}

	sort.Slice(report.Findings, func(i, j int) bool {
		if report.Findings[i].Kind != report.Findings[j].Kind {
			return report.Findings[i].Kind < report.Findings[j].Kind
		}
		return report.Findings[i].RoomID < report.Findings[j].RoomID
	})

	for _, f := range report.Findings {
		d.logger.Warnw("inconsistent room", "room_id", f.RoomID, "kind", f.Kind, "detail", f.Detail)
	}
	return report, nil
}

func metadataNestID(metadata string) domain.RoomID {
	var meta struct {
		NestID domain.RoomID `json:"nestId"`
	}
	if metadata == "" || json.Unmarshal([]byte(metadata), &meta) != nil {
		return ""
	}
	return meta.NestID
}
