package encounters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coopquest/backend/internal/models"
)

const uniqueViolation = "23505"

const encounterColumns = `te.id, te.event_id, te.scanner_team_id, te.scanned_team_id, te.challenge_id,
	te.challenge_question, te.challenge_hint, te.challenge_type, te.requires_exact_match, te.challenge_points, te.time_limit_seconds,
	te.scanner_answer, te.scanned_answer, te.status, te.points_awarded, te.started_at, te.completed_at,
	scanner.name, scanned.name`

const encounterFrom = `FROM team_encounters te
	JOIN teams scanner ON te.scanner_team_id = scanner.id
	JOIN teams scanned ON te.scanned_team_id = scanned.id`

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an encounters repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create inserts a pending encounter. Both team rows are locked first so the
// pending-slot checks cannot interleave with another scan involving either team.
func (r *Repository) Create(ctx context.Context, e *models.Encounter) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT id FROM teams WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`,
		e.ScannerTeamID, e.ScannedTeamID); err != nil {
		return fmt.Errorf("lock teams: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM team_encounters
		WHERE event_id = $1 AND scanner_team_id = $2 AND scanned_team_id = $3)`,
		e.EventID, e.ScannerTeamID, e.ScannedTeamID).Scan(&exists); err != nil {
		return fmt.Errorf("check pair: %w", err)
	}
	if exists {
		return ErrDuplicateEncounter
	}
	for _, slot := range []struct {
		teamID uuid.UUID
		err    error
	}{{e.ScannerTeamID, ErrEncounterInProgress}, {e.ScannedTeamID, ErrPartnerBusy}} {
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM team_encounters
			WHERE status = 'pending' AND (scanner_team_id = $1 OR scanned_team_id = $1))`,
			slot.teamID).Scan(&exists); err != nil {
			return fmt.Errorf("check pending: %w", err)
		}
		if exists {
			return slot.err
		}
	}

	const query = `INSERT INTO team_encounters (id, event_id, scanner_team_id, scanned_team_id, challenge_id,
			challenge_question, challenge_hint, challenge_type, requires_exact_match, challenge_points, time_limit_seconds,
			status, points_awarded, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', 0, $12)`
	_, err = tx.Exec(ctx, query, e.ID, e.EventID, e.ScannerTeamID, e.ScannedTeamID, e.ChallengeID,
		e.ChallengeQuestion, e.ChallengeHint, e.ChallengeType, e.RequiresExactMatch, e.ChallengePoints, e.TimeLimitSeconds,
		e.StartedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "idx_team_encounters_pending_scanner":
		return ErrEncounterInProgress
	case "idx_team_encounters_pending_scanned":
		return ErrPartnerBusy
	default:
		return ErrDuplicateEncounter
	}
}

// GetByID returns an encounter with team names, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Encounter, error) {
	e, err := scanEncounter(r.pool.QueryRow(ctx, `SELECT `+encounterColumns+` `+encounterFrom+` WHERE te.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return e, nil
}

// Exists reports whether scanner already scanned scanned in the event.
func (r *Repository) Exists(ctx context.Context, eventID, scannerTeamID, scannedTeamID uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM team_encounters
		WHERE event_id = $1 AND scanner_team_id = $2 AND scanned_team_id = $3)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, eventID, scannerTeamID, scannedTeamID).Scan(&exists)
	return exists, err
}

// ActiveForTeam returns the team's pending encounter in either role, or nil.
func (r *Repository) ActiveForTeam(ctx context.Context, teamID uuid.UUID) (*models.Encounter, error) {
	query := `SELECT ` + encounterColumns + ` ` + encounterFrom + `
		WHERE te.status = 'pending' AND (te.scanner_team_id = $1 OR te.scanned_team_id = $1)
		ORDER BY te.started_at DESC LIMIT 1`
	e, err := scanEncounter(r.pool.QueryRow(ctx, query, teamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active encounter: %w", err)
	}
	return e, nil
}

// SetAnswer writes the answer for role if the field is empty and the encounter pending.
func (r *Repository) SetAnswer(ctx context.Context, id uuid.UUID, role models.Role, answer string) (*models.Encounter, error) {
	column := "scanner_answer"
	if role == models.RoleScanned {
		column = "scanned_answer"
	}
	query := `UPDATE team_encounters SET ` + column + ` = $2
		WHERE id = $1 AND status = 'pending' AND ` + column + ` IS NULL`
	tag, err := r.pool.Exec(ctx, query, id, answer)
	if err != nil {
		return nil, fmt.Errorf("set answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		cur, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status != models.EncounterPending {
			return nil, ErrEncounterClosed
		}
		return nil, ErrAlreadyAnswered
	}
	return r.GetByID(ctx, id)
}

// Settle moves a fully answered pending encounter to status and credits both
// teams with points in the same transaction.
func (r *Repository) Settle(ctx context.Context, id uuid.UUID, status models.EncounterStatus, points int, at time.Time) (bool, error) {
	if status != models.EncounterCompleted && status != models.EncounterFailed {
		return false, fmt.Errorf("settle: invalid status %q", status)
	}
	if status != models.EncounterCompleted && points != 0 {
		return false, fmt.Errorf("settle: %d points on %s encounter", points, status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE team_encounters
		SET status = $2, points_awarded = $3, completed_at = $4
		WHERE id = $1 AND status = 'pending' AND scanner_answer IS NOT NULL AND scanned_answer IS NOT NULL
		RETURNING scanner_team_id, scanned_team_id`
	var scannerID, scannedID uuid.UUID
	err = tx.QueryRow(ctx, query, id, string(status), points, at).Scan(&scannerID, &scannedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update encounter: %w", err)
	}
	if points > 0 {
		tag, err := tx.Exec(ctx, `UPDATE teams SET score = score + $1 WHERE id IN ($2, $3)`, points, scannerID, scannedID)
		if err != nil {
			return false, fmt.Errorf("credit teams: %w", err)
		}
		if tag.RowsAffected() != 2 {
			return false, fmt.Errorf("credit teams: %d rows updated", tag.RowsAffected())
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListStale returns pending encounters whose time limit elapsed before now.
// A NULL or non-positive stored limit means defaultLimit, as in Encounter.TimeLimit.
func (r *Repository) ListStale(ctx context.Context, now time.Time, defaultLimit time.Duration) ([]*models.Encounter, error) {
	query := `SELECT ` + encounterColumns + ` ` + encounterFrom + `
		WHERE te.status = 'pending'
		AND te.started_at + ((CASE WHEN te.time_limit_seconds > 0 THEN te.time_limit_seconds ELSE $2::int END) * INTERVAL '1 second') < $1
		ORDER BY te.started_at`
	return r.list(ctx, query, now, int(defaultLimit.Seconds()))
}

// Expire moves a pending encounter to expired.
func (r *Repository) Expire(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const query = `UPDATE team_encounters
		SET status = 'expired', completed_at = $2, points_awarded = 0
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("expire encounter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByTeam returns the team's encounters in both roles, newest first.
func (r *Repository) ListByTeam(ctx context.Context, teamID, eventID uuid.UUID) ([]*models.Encounter, error) {
	query := `SELECT ` + encounterColumns + ` ` + encounterFrom + `
		WHERE te.event_id = $1 AND (te.scanner_team_id = $2 OR te.scanned_team_id = $2)
		ORDER BY te.started_at DESC`
	return r.list(ctx, query, eventID, teamID)
}

// ListByEvent returns every encounter of the event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Encounter, error) {
	query := `SELECT ` + encounterColumns + ` ` + encounterFrom + `
		WHERE te.event_id = $1
		ORDER BY te.started_at DESC`
	return r.list(ctx, query, eventID)
}

// Unencountered returns teams of the event the team has not scanned, by name.
func (r *Repository) Unencountered(ctx context.Context, teamID, eventID uuid.UUID) ([]*models.Team, error) {
	const query = `SELECT t.id, t.event_id, t.name, t.score, t.created_at
		FROM teams t
		WHERE t.event_id = $1
		AND t.id <> $2
		AND t.id NOT IN (
			SELECT scanned_team_id FROM team_encounters
			WHERE event_id = $1 AND scanner_team_id = $2
		)
		ORDER BY t.name`
	rows, err := r.pool.Query(ctx, query, eventID, teamID)
	if err != nil {
		return nil, fmt.Errorf("list unencountered teams: %w", err)
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

// Stats aggregates the team's encounter results within the event.
func (r *Repository) Stats(ctx context.Context, teamID, eventID uuid.UUID) (*models.EncounterStats, error) {
	const query = `SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'expired'),
			COALESCE(SUM(points_awarded) FILTER (WHERE status = 'completed'), 0),
			(SELECT COUNT(*) FROM teams WHERE event_id = $1 AND id <> $2)
		FROM team_encounters
		WHERE event_id = $1 AND (scanner_team_id = $2 OR scanned_team_id = $2)`
	var s models.EncounterStats
	err := r.pool.QueryRow(ctx, query, eventID, teamID).
		Scan(&s.CompletedEncounters, &s.FailedEncounters, &s.ExpiredEncounters, &s.TotalEncounterPoints, &s.TotalTeams)
	if err != nil {
		return nil, fmt.Errorf("encounter stats: %w", err)
	}
	return &s, nil
}

// CountCompleted counts successful encounters of the event.
func (r *Repository) CountCompleted(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM team_encounters WHERE event_id = $1 AND status = 'completed'`, eventID).Scan(&n)
	return n, err
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Encounter, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()
	var list []*models.Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanEncounter(row pgx.Row) (*models.Encounter, error) {
	var e models.Encounter
	var status string
	err := row.Scan(&e.ID, &e.EventID, &e.ScannerTeamID, &e.ScannedTeamID, &e.ChallengeID,
		&e.ChallengeQuestion, &e.ChallengeHint, &e.ChallengeType, &e.RequiresExactMatch, &e.ChallengePoints, &e.TimeLimitSeconds,
		&e.ScannerAnswer, &e.ScannedAnswer, &status, &e.PointsAwarded, &e.StartedAt, &e.CompletedAt,
		&e.ScannerTeamName, &e.ScannedTeamName)
	if err != nil {
		return nil, err
	}
	e.Status = models.EncounterStatus(status)
	return &e, nil
}
