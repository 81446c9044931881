package teams

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coopquest/backend/internal/models"
)

// Repository reads teams. Registration and score edits other than encounter
// credits live in the admin service.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a teams repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a team, or nil if it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	const query = `SELECT id, event_id, name, score, personal_qr_code, created_at FROM teams WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByQRCode returns the team owning a personal QR code, or nil.
func (r *Repository) GetByQRCode(ctx context.Context, code string) (*models.Team, error) {
	const query = `SELECT id, event_id, name, score, personal_qr_code, created_at FROM teams WHERE personal_qr_code = $1`
	return r.getOne(ctx, query, code)
}

// ListByEvent returns the event's teams ordered by score (leaderboard).
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Team, error) {
	const query = `SELECT id, event_id, name, score, created_at FROM teams WHERE event_id = $1 ORDER BY score DESC, created_at`
	rows, err := r.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()
	var list []*models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Score, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *Repository) getOne(ctx context.Context, query string, arg interface{}) (*models.Team, error) {
	var t models.Team
	err := r.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.EventID, &t.Name, &t.Score, &t.PersonalQRCode, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return &t, nil
}
