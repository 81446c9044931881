package encounters

import (
	"time"

	"github.com/google/uuid"
)

// Realtime event names.
const (
	EventStarted   = "encounter:started"
	EventAnswered  = "encounter:answered"
	EventCompleted = "encounter:completed"
	EventExpired   = "encounter:expired"

	// Direct, team-scoped messages.
	EventInvited = "encounter:invited"
	EventResult  = "encounter:result"
)

// ChallengeInfo is the challenge part of a started message.
type ChallengeInfo struct {
	Question           string  `json:"question"`
	Hint               *string `json:"hint,omitempty"`
	Type               string  `json:"type"`
	TimeLimit          int     `json:"time_limit"`
	RequiresExactMatch bool    `json:"requires_exact_match"`
}

// StartedMessage is broadcast to the event when a scan creates an encounter.
type StartedMessage struct {
	EncounterID     uuid.UUID     `json:"encounter_id"`
	ScannerTeamID   uuid.UUID     `json:"scanner_team_id"`
	ScannerTeamName string        `json:"scanner_team_name"`
	ScannedTeamID   uuid.UUID     `json:"scanned_team_id"`
	ScannedTeamName string        `json:"scanned_team_name"`
	Challenge       ChallengeInfo `json:"challenge"`
	StartedAt       time.Time     `json:"started_at"`
}

// AnsweredMessage tells the event a team answered. It never carries the answer.
type AnsweredMessage struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	TeamID      uuid.UUID `json:"team_id"`
	TeamName    string    `json:"team_name"`
}

// CompletedMessage is broadcast once when an encounter settles.
type CompletedMessage struct {
	EncounterID   uuid.UUID `json:"encounter_id"`
	Success       bool      `json:"success"`
	Points        int       `json:"points"`
	ScannerTeamID uuid.UUID `json:"scanner_team_id"`
	ScannedTeamID uuid.UUID `json:"scanned_team_id"`
}

// ExpiredMessage is broadcast once when the sweep expires an encounter.
type ExpiredMessage struct {
	EncounterID   uuid.UUID `json:"encounter_id"`
	ScannerTeamID uuid.UUID `json:"scanner_team_id"`
	ScannedTeamID uuid.UUID `json:"scanned_team_id"`
}

// ResultMessage is sent to each participant after settlement.
type ResultMessage struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	Success     bool      `json:"success"`
	Points      int       `json:"points"`
	PartnerID   uuid.UUID `json:"partner_team_id"`
}
