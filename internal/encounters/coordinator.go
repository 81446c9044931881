package encounters

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/metrics"
	"github.com/coopquest/backend/internal/models"
)

// DefaultTimeLimit applies to challenges without a configured time limit.
const DefaultTimeLimit = 120 * time.Second

// Options configures a Coordinator.
type Options struct {
	DefaultTimeLimit time.Duration
	PersonalQRPrefix string
	// OnSettled, when set, runs after a settlement this coordinator applied.
	OnSettled SettleListener
}

// SettleListener observes applied settlements.
type SettleListener interface {
	EncounterSettled(ctx context.Context, e *models.Encounter, out Outcome)
}

// Coordinator runs the encounter state machine: pending -> completed | failed
// through settlement, pending -> expired through the sweep.
type Coordinator struct {
	store      Store
	teams      TeamDirectory
	challenges ChallengeSource
	notifier   Notifier
	clock      Clock
	opts       Options
	locks      *keyedMutex
	logger     *zap.Logger
}

// NewCoordinator creates an encounter coordinator.
func NewCoordinator(store Store, teams TeamDirectory, challenges ChallengeSource, notifier Notifier, clock Clock, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.DefaultTimeLimit <= 0 {
		opts.DefaultTimeLimit = DefaultTimeLimit
	}
	return &Coordinator{
		store:      store,
		teams:      teams,
		challenges: challenges,
		notifier:   notifier,
		clock:      clock,
		opts:       opts,
		locks:      newKeyedMutex(),
		logger:     logger,
	}
}

// StartResult is returned by a successful scan.
type StartResult struct {
	Encounter   *models.Encounter `json:"encounter"`
	ScannedTeam *models.Team      `json:"scanned_team"`
}

// SubmitResult reports whether the encounter is settled after an answer.
type SubmitResult struct {
	Completed bool                   `json:"completed"`
	Success   bool                   `json:"success"`
	Points    int                    `json:"points"`
	Status    models.EncounterStatus `json:"status"`
}

// InitiateByQR resolves a scanned personal QR code and starts an encounter.
func (c *Coordinator) InitiateByQR(ctx context.Context, eventID, scannerTeamID uuid.UUID, qrCode string) (*StartResult, error) {
	qrCode = strings.TrimSpace(qrCode)
	if qrCode == "" {
		return nil, c.reject(ErrQRCodeRequired)
	}
	if c.opts.PersonalQRPrefix != "" && !strings.HasPrefix(qrCode, c.opts.PersonalQRPrefix) {
		return nil, c.reject(ErrNotPersonalQR)
	}
	scanned, err := c.teams.GetByQRCode(ctx, qrCode)
	if err != nil {
		return nil, fmt.Errorf("lookup team by qr: %w", err)
	}
	if scanned == nil {
		return nil, c.reject(ErrTeamNotFound)
	}
	return c.Initiate(ctx, eventID, scannerTeamID, scanned.ID)
}

// Initiate starts an encounter between scanner and scanned. Preconditions are
// checked in a fixed order so each failure maps to exactly one error; the store
// re-checks uniqueness and pending slots atomically on insert.
func (c *Coordinator) Initiate(ctx context.Context, eventID, scannerTeamID, scannedTeamID uuid.UUID) (*StartResult, error) {
	if scannerTeamID == scannedTeamID {
		return nil, c.reject(ErrSelfScan)
	}

	scanned, err := c.teams.GetByID(ctx, scannedTeamID)
	if err != nil {
		return nil, fmt.Errorf("get scanned team: %w", err)
	}
	if scanned == nil {
		return nil, c.reject(ErrTeamNotFound)
	}
	if scanned.EventID != eventID {
		return nil, c.reject(ErrCrossEvent)
	}
	scanner, err := c.teams.GetByID(ctx, scannerTeamID)
	if err != nil {
		return nil, fmt.Errorf("get scanner team: %w", err)
	}
	if scanner == nil {
		return nil, c.reject(ErrTeamNotFound)
	}
	if scanner.EventID != eventID {
		return nil, c.reject(ErrCrossEvent)
	}

	exists, err := c.store.Exists(ctx, eventID, scannerTeamID, scannedTeamID)
	if err != nil {
		return nil, fmt.Errorf("check encounter exists: %w", err)
	}
	if exists {
		return nil, c.reject(ErrDuplicateEncounter)
	}

	active, err := c.store.ActiveForTeam(ctx, scannerTeamID)
	if err != nil {
		return nil, fmt.Errorf("get active encounter: %w", err)
	}
	if active != nil {
		return nil, c.reject(ErrEncounterInProgress)
	}
	active, err = c.store.ActiveForTeam(ctx, scannedTeamID)
	if err != nil {
		return nil, fmt.Errorf("get partner active encounter: %w", err)
	}
	if active != nil {
		return nil, c.reject(ErrPartnerBusy)
	}

	challenge, err := c.challenges.RandomActive(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("pick challenge: %w", err)
	}
	if challenge == nil || (challenge.EventID != nil && *challenge.EventID != eventID) {
		return nil, c.reject(ErrNoChallengeAvailable)
	}

	e := &models.Encounter{
		ID:                 uuid.New(),
		EventID:            eventID,
		ScannerTeamID:      scannerTeamID,
		ScannedTeamID:      scannedTeamID,
		ChallengeID:        challenge.ID,
		ChallengeQuestion:  challenge.Question,
		ChallengeHint:      challenge.AnswerHint,
		ChallengeType:      challenge.Type,
		RequiresExactMatch: challenge.RequiresExactMatch,
		ChallengePoints:    challenge.Points,
		TimeLimitSeconds:   challenge.TimeLimitSeconds,
		Status:             models.EncounterPending,
		StartedAt:          c.clock.Now(),
		ScannerTeamName:    scanner.Name,
		ScannedTeamName:    scanned.Name,
	}
	if err := c.store.Create(ctx, e); err != nil {
		if Code(err) != "" {
			return nil, c.reject(err)
		}
		return nil, fmt.Errorf("create encounter: %w", err)
	}
	metrics.EncountersStarted.Inc()

	c.notifier.BroadcastToEvent(eventID, EventStarted, StartedMessage{
		EncounterID:     e.ID,
		ScannerTeamID:   scanner.ID,
		ScannerTeamName: scanner.Name,
		ScannedTeamID:   scanned.ID,
		ScannedTeamName: scanned.Name,
		Challenge: ChallengeInfo{
			Question:           e.ChallengeQuestion,
			Hint:               e.ChallengeHint,
			Type:               e.ChallengeType,
			TimeLimit:          int(e.TimeLimit(c.opts.DefaultTimeLimit).Seconds()),
			RequiresExactMatch: e.RequiresExactMatch,
		},
		StartedAt: e.StartedAt,
	})
	if !c.notifier.SendToTeam(scanned.ID, EventInvited, map[string]interface{}{
		"encounter_id":      e.ID,
		"scanner_team_id":   scanner.ID,
		"scanner_team_name": scanner.Name,
	}) {
		c.logger.Debug("scanned team not connected", zap.String("team_id", scanned.ID.String()))
	}

	c.logger.Info("encounter started",
		zap.String("encounter_id", e.ID.String()),
		zap.String("event_id", eventID.String()),
		zap.String("scanner_team_id", scanner.ID.String()),
		zap.String("scanned_team_id", scanned.ID.String()),
	)
	scanned.PersonalQRCode = ""
	return &StartResult{Encounter: e, ScannedTeam: scanned}, nil
}

// SubmitAnswer records teamID's single answer and settles the encounter when
// both answers are present.
func (c *Coordinator) SubmitAnswer(ctx context.Context, encounterID, teamID uuid.UUID, text string) (*SubmitResult, error) {
	unlock := c.locks.Lock(encounterID)
	defer unlock()

	e, err := c.store.GetByID(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.EncounterPending {
		return nil, ErrEncounterClosed
	}
	role, ok := e.RoleOf(teamID)
	if !ok {
		return nil, ErrForbidden
	}
	if e.Answer(role) != nil {
		return nil, ErrAlreadyAnswered
	}
	answer := strings.TrimSpace(text)
	if answer == "" {
		return nil, ErrAnswerRequired
	}

	e, err = c.store.SetAnswer(ctx, encounterID, role, answer)
	if err != nil {
		return nil, err
	}

	teamName := e.ScannerTeamName
	if role == models.RoleScanned {
		teamName = e.ScannedTeamName
	}
	c.notifier.BroadcastToEvent(e.EventID, EventAnswered, AnsweredMessage{
		EncounterID: e.ID,
		TeamID:      teamID,
		TeamName:    teamName,
	})

	return c.settle(ctx, e)
}

// settle runs the settlement decision once both answers are in. Only the caller
// whose compare-and-set wins broadcasts and credits; a loser reports the
// terminal outcome it finds.
func (c *Coordinator) settle(ctx context.Context, e *models.Encounter) (*SubmitResult, error) {
	if !e.BothAnswered() {
		return &SubmitResult{Completed: false, Status: e.Status}, nil
	}

	out := Decide(e.RequiresExactMatch, e.ChallengePoints, *e.ScannerAnswer, *e.ScannedAnswer)
	applied, err := c.store.Settle(ctx, e.ID, out.Status, out.Points, c.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("settle encounter: %w", err)
	}
	if !applied {
		cur, err := c.store.GetByID(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if !cur.Status.Terminal() {
			return &SubmitResult{Completed: false, Status: cur.Status}, nil
		}
		return &SubmitResult{
			Completed: true,
			Success:   cur.Status == models.EncounterCompleted,
			Points:    cur.PointsAwarded,
			Status:    cur.Status,
		}, nil
	}

	metrics.EncountersFinished.WithLabelValues(string(out.Status)).Inc()
	if out.Points > 0 {
		metrics.EncounterPointsAwarded.Add(float64(2 * out.Points))
	}

	c.notifier.BroadcastToEvent(e.EventID, EventCompleted, CompletedMessage{
		EncounterID:   e.ID,
		Success:       out.Success,
		Points:        out.Points,
		ScannerTeamID: e.ScannerTeamID,
		ScannedTeamID: e.ScannedTeamID,
	})
	for _, teamID := range []uuid.UUID{e.ScannerTeamID, e.ScannedTeamID} {
		c.notifier.SendToTeam(teamID, EventResult, ResultMessage{
			EncounterID: e.ID,
			Success:     out.Success,
			Points:      out.Points,
			PartnerID:   e.PartnerOf(teamID),
		})
	}

	if c.opts.OnSettled != nil {
		c.opts.OnSettled.EncounterSettled(ctx, e, out)
	}

	c.logger.Info("encounter settled",
		zap.String("encounter_id", e.ID.String()),
		zap.String("status", string(out.Status)),
		zap.Int("points", out.Points),
	)
	return &SubmitResult{Completed: true, Success: out.Success, Points: out.Points, Status: out.Status}, nil
}

// ExpireStale expires every pending encounter past its time limit, whatever
// answers it holds. Failures on single encounters are logged and left for the
// next sweep; only a failure to list stale encounters is returned.
func (c *Coordinator) ExpireStale(ctx context.Context) (int, error) {
	now := c.clock.Now()
	stale, err := c.store.ListStale(ctx, now, c.opts.DefaultTimeLimit)
	if err != nil {
		return 0, fmt.Errorf("list stale encounters: %w", err)
	}

	expired := 0
	for _, e := range stale {
		if c.expire(ctx, e, now) {
			expired++
		}
	}
	if expired > 0 {
		c.logger.Info("expired stale encounters", zap.Int("count", expired), zap.Int("candidates", len(stale)))
	}
	return expired, nil
}

func (c *Coordinator) expire(ctx context.Context, e *models.Encounter, now time.Time) bool {
	unlock := c.locks.Lock(e.ID)
	defer unlock()

	ok, err := c.store.Expire(ctx, e.ID, now)
	if err != nil {
		c.logger.Warn("expire encounter failed", zap.String("encounter_id", e.ID.String()), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	metrics.EncountersFinished.WithLabelValues(string(models.EncounterExpired)).Inc()
	c.notifier.BroadcastToEvent(e.EventID, EventExpired, ExpiredMessage{
		EncounterID:   e.ID,
		ScannerTeamID: e.ScannerTeamID,
		ScannedTeamID: e.ScannedTeamID,
	})
	return true
}

// View is an encounter as seen by one of its participants.
type View struct {
	*models.Encounter
	TimeRemaining    int  `json:"time_remaining"`
	IsScanner        bool `json:"is_scanner"`
	HasAnswered      bool `json:"has_answered"`
	OtherHasAnswered bool `json:"other_has_answered"`
}

// Get returns the encounter for one of its participants.
func (c *Coordinator) Get(ctx context.Context, encounterID, teamID uuid.UUID) (*View, error) {
	e, err := c.store.GetByID(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.RoleOf(teamID); !ok {
		return nil, ErrForbidden
	}
	return c.view(e, teamID), nil
}

// Active returns the team's pending encounter, or nil.
func (c *Coordinator) Active(ctx context.Context, teamID uuid.UUID) (*View, error) {
	e, err := c.store.ActiveForTeam(ctx, teamID)
	if err != nil || e == nil {
		return nil, err
	}
	return c.view(e, teamID), nil
}

// Candidates lists teams of the event that teamID has not scanned yet.
func (c *Coordinator) Candidates(ctx context.Context, teamID, eventID uuid.UUID) ([]*models.Team, error) {
	return c.store.Unencountered(ctx, teamID, eventID)
}

// Stats aggregates teamID's encounter results in the event.
func (c *Coordinator) Stats(ctx context.Context, teamID, eventID uuid.UUID) (*models.EncounterStats, error) {
	return c.store.Stats(ctx, teamID, eventID)
}

// History lists teamID's encounters in the event, newest first, with
// partner answers hidden while pending.
func (c *Coordinator) History(ctx context.Context, teamID, eventID uuid.UUID) ([]*View, error) {
	list, err := c.store.ListByTeam(ctx, teamID, eventID)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(list))
	for _, e := range list {
		views = append(views, c.view(e, teamID))
	}
	return views, nil
}

// ListByEvent lists every encounter of an event (admin).
func (c *Coordinator) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.Encounter, error) {
	return c.store.ListByEvent(ctx, eventID)
}

// CompletedCount counts successful encounters of an event.
func (c *Coordinator) CompletedCount(ctx context.Context, eventID uuid.UUID) (int, error) {
	return c.store.CountCompleted(ctx, eventID)
}

func (c *Coordinator) view(e *models.Encounter, teamID uuid.UUID) *View {
	cp := *e
	role, _ := cp.RoleOf(teamID)
	own, other := cp.ScannerAnswer, cp.ScannedAnswer
	if role == models.RoleScanned {
		own, other = other, own
	}
	otherAnswered := other != nil
	if cp.Status == models.EncounterPending {
		if role == models.RoleScanner {
			cp.ScannedAnswer = nil
		} else {
			cp.ScannerAnswer = nil
		}
	}
	return &View{
		Encounter:        &cp,
		TimeRemaining:    c.timeRemaining(e),
		IsScanner:        role == models.RoleScanner,
		HasAnswered:      own != nil,
		OtherHasAnswered: otherAnswered,
	}
}

func (c *Coordinator) timeRemaining(e *models.Encounter) int {
	left := e.TimeLimit(c.opts.DefaultTimeLimit) - c.clock.Now().Sub(e.StartedAt)
	return int(math.Max(0, math.Round(left.Seconds())))
}

func (c *Coordinator) reject(err error) error {
	metrics.EncountersRejected.WithLabelValues(Code(err)).Inc()
	return err
}
