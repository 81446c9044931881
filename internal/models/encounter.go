package models

import (
	"time"

	"github.com/google/uuid"
)

// EncounterStatus is the lifecycle state of an encounter.
type EncounterStatus string

const (
	EncounterPending   EncounterStatus = "pending"
	EncounterCompleted EncounterStatus = "completed"
	EncounterFailed    EncounterStatus = "failed"
	EncounterExpired   EncounterStatus = "expired"
)

// Terminal reports whether no transition can leave s.
func (s EncounterStatus) Terminal() bool {
	return s == EncounterCompleted || s == EncounterFailed || s == EncounterExpired
}

// Role is the side a team plays in an encounter.
type Role string

const (
	RoleScanner Role = "scanner"
	RoleScanned Role = "scanned"
)

// Encounter is a two-party timed challenge started by one team scanning another
// team's personal QR code. The challenge policy fields are copied at creation so
// later edits to the challenge never change how a running encounter settles.
type Encounter struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	ScannerTeamID uuid.UUID `json:"scanner_team_id"`
	ScannedTeamID uuid.UUID `json:"scanned_team_id"`
	ChallengeID   uuid.UUID `json:"challenge_id"`

	ChallengeQuestion  string  `json:"challenge_question"`
	ChallengeHint      *string `json:"challenge_hint,omitempty"`
	ChallengeType      string  `json:"challenge_type"`
	RequiresExactMatch bool    `json:"requires_exact_match"`
	ChallengePoints    int     `json:"challenge_points"`
	TimeLimitSeconds   *int    `json:"time_limit_seconds,omitempty"`

	ScannerAnswer *string         `json:"scanner_answer"`
	ScannedAnswer *string         `json:"scanned_answer"`
	Status        EncounterStatus `json:"status"`
	PointsAwarded int             `json:"points_awarded"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`

	// Joined on read.
	ScannerTeamName string `json:"scanner_team_name,omitempty"`
	ScannedTeamName string `json:"scanned_team_name,omitempty"`
}

// RoleOf returns the role teamID plays, or false if it is not a participant.
func (e *Encounter) RoleOf(teamID uuid.UUID) (Role, bool) {
	switch teamID {
	case e.ScannerTeamID:
		return RoleScanner, true
	case e.ScannedTeamID:
		return RoleScanned, true
	}
	return "", false
}

// PartnerOf returns the other participant's team ID.
func (e *Encounter) PartnerOf(teamID uuid.UUID) uuid.UUID {
	if teamID == e.ScannerTeamID {
		return e.ScannedTeamID
	}
	return e.ScannerTeamID
}

// Answer returns the answer recorded for role, or nil.
func (e *Encounter) Answer(role Role) *string {
	if role == RoleScanner {
		return e.ScannerAnswer
	}
	return e.ScannedAnswer
}

// BothAnswered reports whether both answer fields are set.
func (e *Encounter) BothAnswered() bool {
	return e.ScannerAnswer != nil && e.ScannedAnswer != nil
}

// TimeLimit returns the challenge limit, or fallback when the challenge has none.
func (e *Encounter) TimeLimit(fallback time.Duration) time.Duration {
	if e.TimeLimitSeconds != nil && *e.TimeLimitSeconds > 0 {
		return time.Duration(*e.TimeLimitSeconds) * time.Second
	}
	return fallback
}

// EncounterStats aggregates a team's encounter results within an event.
type EncounterStats struct {
	CompletedEncounters  int `json:"completed_encounters"`
	FailedEncounters     int `json:"failed_encounters"`
	ExpiredEncounters    int `json:"expired_encounters"`
	TotalEncounterPoints int `json:"total_encounter_points"`
	TotalTeams           int `json:"total_teams"`
}
