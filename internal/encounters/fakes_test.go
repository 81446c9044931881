package encounters

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coopquest/backend/internal/models"
)

// memStore is an in-memory Store with the same compare-and-set contract as
// the Postgres repository. Every method runs under one mutex, which plays the
// role of the row locks and unique indexes.
type memStore struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*models.Encounter
	teams      *teamDir

	listStaleErr error
	expireErr    map[uuid.UUID]error
	// beforeSettle runs, unlocked, at the start of every Settle call.
	beforeSettle func()
	settleCalls  int
}

func newMemStore(teams *teamDir) *memStore {
	return &memStore{
		encounters: make(map[uuid.UUID]*models.Encounter),
		teams:      teams,
		expireErr:  make(map[uuid.UUID]error),
	}
}

func cloneEncounter(e *models.Encounter) *models.Encounter {
	cp := *e
	if e.ScannerAnswer != nil {
		a := *e.ScannerAnswer
		cp.ScannerAnswer = &a
	}
	if e.ScannedAnswer != nil {
		a := *e.ScannedAnswer
		cp.ScannedAnswer = &a
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (s *memStore) pendingFor(teamID uuid.UUID) *models.Encounter {
	for _, e := range s.encounters {
		if e.Status == models.EncounterPending && (e.ScannerTeamID == teamID || e.ScannedTeamID == teamID) {
			return e
		}
	}
	return nil
}

func (s *memStore) Create(_ context.Context, e *models.Encounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.encounters {
		if x.EventID == e.EventID && x.ScannerTeamID == e.ScannerTeamID && x.ScannedTeamID == e.ScannedTeamID {
			return ErrDuplicateEncounter
		}
	}
	if s.pendingFor(e.ScannerTeamID) != nil {
		return ErrEncounterInProgress
	}
	if s.pendingFor(e.ScannedTeamID) != nil {
		return ErrPartnerBusy
	}
	s.encounters[e.ID] = cloneEncounter(e)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.encounters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEncounter(e), nil
}

func (s *memStore) Exists(_ context.Context, eventID, scannerTeamID, scannedTeamID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.encounters {
		if e.EventID == eventID && e.ScannerTeamID == scannerTeamID && e.ScannedTeamID == scannedTeamID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ActiveForTeam(_ context.Context, teamID uuid.UUID) (*models.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.pendingFor(teamID); e != nil {
		return cloneEncounter(e), nil
	}
	return nil, nil
}

func (s *memStore) SetAnswer(_ context.Context, id uuid.UUID, role models.Role, answer string) (*models.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.encounters[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != models.EncounterPending {
		return nil, ErrEncounterClosed
	}
	field := &e.ScannerAnswer
	if role == models.RoleScanned {
		field = &e.ScannedAnswer
	}
	if *field != nil {
		return nil, ErrAlreadyAnswered
	}
	a := answer
	*field = &a
	return cloneEncounter(e), nil
}

func (s *memStore) Settle(_ context.Context, id uuid.UUID, status models.EncounterStatus, points int, at time.Time) (bool, error) {
	if s.beforeSettle != nil {
		s.beforeSettle()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleCalls++
	e, ok := s.encounters[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != models.EncounterPending {
		return false, nil
	}
	if points != 0 && status != models.EncounterCompleted {
		return false, errors.New("points on a non-completed encounter")
	}
	e.Status = status
	e.PointsAwarded = points
	e.CompletedAt = &at
	if points > 0 {
		s.teams.credit(e.ScannerTeamID, points)
		s.teams.credit(e.ScannedTeamID, points)
	}
	return true, nil
}

func (s *memStore) ListStale(_ context.Context, now time.Time, defaultLimit time.Duration) ([]*models.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listStaleErr != nil {
		return nil, s.listStaleErr
	}
	var out []*models.Encounter
	for _, e := range s.encounters {
		if e.Status == models.EncounterPending && e.StartedAt.Add(e.TimeLimit(defaultLimit)).Before(now) {
			out = append(out, cloneEncounter(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *memStore) Expire(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expireErr[id]; err != nil {
		return false, err
	}
	e, ok := s.encounters[id]
	if !ok || e.Status != models.EncounterPending {
		return false, nil
	}
	e.Status = models.EncounterExpired
	e.PointsAwarded = 0
	e.CompletedAt = &at
	return true, nil
}

func (s *memStore) ListByTeam(_ context.Context, teamID, eventID uuid.UUID) ([]*models.Encounter, error) {
	return s.filter(func(e *models.Encounter) bool {
		return e.EventID == eventID && (e.ScannerTeamID == teamID || e.ScannedTeamID == teamID)
	}), nil
}

func (s *memStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]*models.Encounter, error) {
	return s.filter(func(e *models.Encounter) bool { return e.EventID == eventID }), nil
}

func (s *memStore) filter(keep func(*models.Encounter) bool) []*models.Encounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Encounter
	for _, e := range s.encounters {
		if keep(e) {
			out = append(out, cloneEncounter(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (s *memStore) Unencountered(_ context.Context, teamID, eventID uuid.UUID) ([]*models.Team, error) {
	s.mu.Lock()
	scanned := make(map[uuid.UUID]bool)
	for _, e := range s.encounters {
		if e.EventID == eventID && e.ScannerTeamID == teamID {
			scanned[e.ScannedTeamID] = true
		}
	}
	s.mu.Unlock()

	var out []*models.Team
	for _, t := range s.teams.inEvent(eventID) {
		if t.ID != teamID && !scanned[t.ID] {
			t.PersonalQRCode = ""
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) Stats(_ context.Context, teamID, eventID uuid.UUID) (*models.EncounterStats, error) {
	s.mu.Lock()
	var st models.EncounterStats
	for _, e := range s.encounters {
		if e.EventID != eventID || (e.ScannerTeamID != teamID && e.ScannedTeamID != teamID) {
			continue
		}
		switch e.Status {
		case models.EncounterCompleted:
			st.CompletedEncounters++
			st.TotalEncounterPoints += e.PointsAwarded
		case models.EncounterFailed:
			st.FailedEncounters++
		case models.EncounterExpired:
			st.ExpiredEncounters++
		}
	}
	s.mu.Unlock()
	st.TotalTeams = len(s.teams.inEvent(eventID)) - 1
	return &st, nil
}

func (s *memStore) CountCompleted(_ context.Context, eventID uuid.UUID) (int, error) {
	n := 0
	for _, e := range s.filter(func(e *models.Encounter) bool { return e.EventID == eventID }) {
		if e.Status == models.EncounterCompleted {
			n++
		}
	}
	return n, nil
}

// teamDir is an in-memory TeamDirectory.
type teamDir struct {
	mu    sync.Mutex
	teams map[uuid.UUID]*models.Team
}

func newTeamDir() *teamDir {
	return &teamDir{teams: make(map[uuid.UUID]*models.Team)}
}

func (d *teamDir) add(eventID uuid.UUID, name string) *models.Team {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &models.Team{
		ID:             uuid.New(),
		EventID:        eventID,
		Name:           name,
		PersonalQRCode: "COOPQUEST-TEAM-" + name,
	}
	d.teams[t.ID] = t
	cp := *t
	return &cp
}

func (d *teamDir) GetByID(_ context.Context, id uuid.UUID) (*models.Team, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.teams[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (d *teamDir) GetByQRCode(_ context.Context, code string) (*models.Team, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.teams {
		if t.PersonalQRCode == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *teamDir) inEvent(eventID uuid.UUID) []*models.Team {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*models.Team
	for _, t := range d.teams {
		if t.EventID == eventID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (d *teamDir) credit(id uuid.UUID, points int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.teams[id]; ok {
		t.Score += points
	}
}

func (d *teamDir) score(id uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teams[id].Score
}

// challengeSet is a ChallengeSource returning a fixed challenge.
type challengeSet struct {
	challenge *models.Challenge
	err       error
}

func (c *challengeSet) RandomActive(_ context.Context, _ uuid.UUID) (*models.Challenge, error) {
	if c.err != nil || c.challenge == nil {
		return nil, c.err
	}
	cp := *c.challenge
	return &cp, nil
}

type sentMessage struct {
	EventID uuid.UUID
	TeamID  uuid.UUID
	Event   string
	Payload interface{}
}

// recordingNotifier records every broadcast and direct send.
type recordingNotifier struct {
	mu         sync.Mutex
	broadcasts []sentMessage
	direct     []sentMessage
	online     map[uuid.UUID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{online: make(map[uuid.UUID]bool)}
}

func (n *recordingNotifier) BroadcastToEvent(eventID uuid.UUID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, sentMessage{EventID: eventID, Event: event, Payload: payload})
}

func (n *recordingNotifier) SendToTeam(teamID uuid.UUID, event string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = append(n.direct, sentMessage{TeamID: teamID, Event: event, Payload: payload})
	return n.online[teamID]
}

// events returns broadcast event names in order.
func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.broadcasts))
	for _, m := range n.broadcasts {
		out = append(out, m.Event)
	}
	return out
}

func (n *recordingNotifier) count(event string) int {
	c := 0
	for _, e := range n.events() {
		if e == event {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(event string) (sentMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.broadcasts) - 1; i >= 0; i-- {
		if n.broadcasts[i].Event == event {
			return n.broadcasts[i], true
		}
	}
	return sentMessage{}, false
}

func (n *recordingNotifier) directTo(teamID uuid.UUID, event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.direct {
		if m.TeamID == teamID && m.Event == event {
			c++
		}
	}
	return c
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
