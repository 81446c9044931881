package encounters

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coopquest/backend/internal/models"
)

// Store persists encounters. It is the single source of truth for state
// transitions and must keep its guarantees when several server instances share it:
//
//   - Create fails with ErrDuplicateEncounter when a row for (event, scanner,
//     scanned) exists, ErrEncounterInProgress when the scanner has a pending
//     encounter in either role and ErrPartnerBusy when the scanned team has one.
//     It never overwrites.
//   - SetAnswer only writes an empty answer field of a pending encounter; otherwise
//     it fails with ErrNotFound, ErrEncounterClosed or ErrAlreadyAnswered.
//   - Settle and Expire are compare-and-set transitions out of pending. They
//     report false, without side effects, when the encounter already left pending.
//     Settle credits both teams inside the same transaction.
type Store interface {
	Create(ctx context.Context, e *models.Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Encounter, error)
	Exists(ctx context.Context, eventID, scannerTeamID, scannedTeamID uuid.UUID) (bool, error)
	ActiveForTeam(ctx context.Context, teamID uuid.UUID) (*models.Encounter, error)
	SetAnswer(ctx context.Context, id uuid.UUID, role models.Role, answer string) (*models.Encounter, error)
	Settle(ctx context.Context, id uuid.UUID, status models.EncounterStatus, points int, at time.Time) (bool, error)
	ListStale(ctx context.Context, now time.Time, defaultLimit time.Duration) ([]*models.Encounter, error)
	Expire(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ListByTeam(ctx context.Context, teamID, eventID uuid.UUID) ([]*models.Encounter, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Encounter, error)
	Unencountered(ctx context.Context, teamID, eventID uuid.UUID) ([]*models.Team, error)
	Stats(ctx context.Context, teamID, eventID uuid.UUID) (*models.EncounterStats, error)
	CountCompleted(ctx context.Context, eventID uuid.UUID) (int, error)
}

// TeamDirectory looks up teams. Missing teams are (nil, nil).
type TeamDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error)
	GetByQRCode(ctx context.Context, code string) (*models.Team, error)
}

// ChallengeSource picks challenges. No active challenge is (nil, nil).
type ChallengeSource interface {
	RandomActive(ctx context.Context, eventID uuid.UUID) (*models.Challenge, error)
}

// Notifier delivers realtime messages, best effort.
type Notifier interface {
	BroadcastToEvent(eventID uuid.UUID, event string, payload interface{})
	SendToTeam(teamID uuid.UUID, event string, payload interface{}) bool
}

// Clock is the time source for started_at, completed_at and expiry.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
