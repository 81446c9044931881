package models

import (
	"time"

	"github.com/google/uuid"
)

// Team is a registered team of an event. Encounters reference teams; they never own them.
type Team struct {
	ID             uuid.UUID `json:"id"`
	EventID        uuid.UUID `json:"event_id"`
	Name           string    `json:"name"`
	Score          int       `json:"score"`
	PersonalQRCode string    `json:"personal_qr_code,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
