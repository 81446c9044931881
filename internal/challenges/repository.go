package challenges

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coopquest/backend/internal/models"
)

const columns = `id, event_id, challenge_type, question, answer_hint, requires_exact_match, points, time_limit_seconds, is_active, created_at`

// Repository reads collaborative challenges.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a challenges repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RandomActive picks one active challenge scoped to the event or global,
// uniformly at random. Returns nil when none is available.
func (r *Repository) RandomActive(ctx context.Context, eventID uuid.UUID) (*models.Challenge, error) {
	query := `SELECT ` + columns + ` FROM collaborative_challenges
		WHERE (event_id = $1 OR event_id IS NULL) AND is_active = TRUE
		ORDER BY random()
		LIMIT 1`
	ch, err := scanChallenge(r.pool.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("random challenge: %w", err)
	}
	return ch, nil
}

// GetByID returns a challenge, or nil.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	ch, err := scanChallenge(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM collaborative_challenges WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

// ListActiveByEvent returns the active challenges an event can draw from.
func (r *Repository) ListActiveByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Challenge, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM collaborative_challenges
		WHERE (event_id = $1 OR event_id IS NULL) AND is_active = TRUE
		ORDER BY created_at`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()
	var list []*models.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ch)
	}
	return list, rows.Err()
}

func scanChallenge(row pgx.Row) (*models.Challenge, error) {
	var ch models.Challenge
	err := row.Scan(&ch.ID, &ch.EventID, &ch.Type, &ch.Question, &ch.AnswerHint, &ch.RequiresExactMatch,
		&ch.Points, &ch.TimeLimitSeconds, &ch.IsActive, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}
