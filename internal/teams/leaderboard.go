package teams

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/encounters"
	"github.com/coopquest/backend/internal/models"
)

// EventLeaderboardUpdate carries the refreshed standings of an event.
const EventLeaderboardUpdate = "leaderboard_update"

// Broadcaster fans a message out to everyone following an event.
type Broadcaster interface {
	BroadcastToEvent(eventID uuid.UUID, event string, payload interface{})
}

// Standing is one leaderboard row.
type Standing struct {
	Rank   int       `json:"rank"`
	TeamID uuid.UUID `json:"team_id"`
	Name   string    `json:"name"`
	Score  int       `json:"score"`
}

// Leaderboard builds standings and pushes them after successful encounters.
type Leaderboard struct {
	repo        *Repository
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewLeaderboard creates a leaderboard publisher.
func NewLeaderboard(repo *Repository, broadcaster Broadcaster, logger *zap.Logger) *Leaderboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Leaderboard{repo: repo, broadcaster: broadcaster, logger: logger}
}

// Standings returns the event's teams ranked by score. Equal scores share a rank.
func (l *Leaderboard) Standings(ctx context.Context, eventID uuid.UUID) ([]Standing, error) {
	list, err := l.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return Rank(list), nil
}

// Rank converts teams ordered by score into standings.
func Rank(list []*models.Team) []Standing {
	out := make([]Standing, 0, len(list))
	for i, t := range list {
		rank := i + 1
		if i > 0 && t.Score == list[i-1].Score {
			rank = out[i-1].Rank
		}
		out = append(out, Standing{Rank: rank, TeamID: t.ID, Name: t.Name, Score: t.Score})
	}
	return out
}

// EncounterSettled republishes standings when points were awarded.
func (l *Leaderboard) EncounterSettled(ctx context.Context, e *models.Encounter, out encounters.Outcome) {
	if !out.Success || out.Points == 0 || l.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	standings, err := l.Standings(ctx, e.EventID)
	if err != nil {
		l.logger.Warn("leaderboard refresh failed", zap.String("event_id", e.EventID.String()), zap.Error(err))
		return
	}
	l.broadcaster.BroadcastToEvent(e.EventID, EventLeaderboardUpdate, map[string]interface{}{
		"event_id":    e.EventID,
		"leaderboard": standings,
	})
}
