package models

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is the prompt template an encounter is instantiated from.
// EventID nil means the challenge is global (available to every event).
type Challenge struct {
	ID                 uuid.UUID  `json:"id"`
	EventID            *uuid.UUID `json:"event_id,omitempty"`
	Type               string     `json:"challenge_type"`
	Question           string     `json:"question"`
	AnswerHint         *string    `json:"answer_hint,omitempty"`
	RequiresExactMatch bool       `json:"requires_exact_match"`
	Points             int        `json:"points"`
	TimeLimitSeconds   *int       `json:"time_limit_seconds,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
}
