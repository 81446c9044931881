package encounters

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopquest/backend/internal/auth"
	"github.com/coopquest/backend/internal/middleware"
	"github.com/coopquest/backend/pkg/response"
)

type apiBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type handlerEnv struct {
	*fixture
	jwt    *auth.JWTService
	router *gin.Engine
}

func newHandlerEnv(t *testing.T, exact bool, scanWindow time.Duration) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t, exact, 50, intPtr(60))
	env := &handlerEnv{fixture: f, jwt: auth.NewJWTService("test-secret", 1)}
	env.router = env.buildRouter(NewHandler(f.coord, nil), scanWindow)
	return env
}

func (env *handlerEnv) buildRouter(h *Handler, scanWindow time.Duration) *gin.Engine {
	r := gin.New()
	api := r.Group("")
	api.Use(middleware.JWT(env.jwt))
	var limit gin.HandlerFunc
	if scanWindow > 0 {
		limit = middleware.ScanRateLimit(middleware.NewLocalLimiter(), scanWindow, nil)
	}
	h.RegisterRoutes(api, limit)
	api.GET("/admin/events/:id/encounters", middleware.RequireRole(auth.RoleAdmin), h.ListByEvent)
	return r
}

func (env *handlerEnv) token(t *testing.T, teamID uuid.UUID, role string) string {
	t.Helper()
	tok, err := env.jwt.Generate(teamID, env.eventID, "", role)
	require.NoError(t, err)
	return tok
}

func (env *handlerEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiBody) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var out apiBody
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHandler_ScanAndAnswer(t *testing.T) {
	env := newHandlerEnv(t, true, 0)
	xTok := env.token(t, env.x.ID, auth.RoleTeam)
	yTok := env.token(t, env.y.ID, auth.RoleTeam)

	w, body := env.do(t, http.MethodPost, "/encounters/scan", xTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var started struct {
		Encounter struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"encounter"`
		ScannedTeam struct {
			Name           string `json:"name"`
			PersonalQRCode string `json:"personal_qr_code"`
		} `json:"scanned_team"`
		TimeLimit int `json:"time_limit"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &started))
	assert.Equal(t, "pending", started.Encounter.Status)
	assert.Equal(t, "Yaks", started.ScannedTeam.Name)
	assert.Empty(t, started.ScannedTeam.PersonalQRCode)
	assert.Equal(t, 60, started.TimeLimit)

	path := "/encounters/" + started.Encounter.ID.String() + "/answer"
	w, body = env.do(t, http.MethodPost, path, xTok, AnswerRequest{Answer: "Rochdale"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first struct {
		Result SubmitResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &first))
	assert.False(t, first.Result.Completed)

	w, body = env.do(t, http.MethodPost, path, yTok, AnswerRequest{Answer: "rochdale!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second struct {
		Message string       `json:"message"`
		Result  SubmitResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &second))
	assert.True(t, second.Result.Completed)
	assert.True(t, second.Result.Success)
	assert.Equal(t, 50, second.Result.Points)
	assert.Equal(t, "Encounter completed!", second.Message)

	w, body = env.do(t, http.MethodPost, path, yTok, AnswerRequest{Answer: "again"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ENCOUNTER_CLOSED", body.Code)
	assert.False(t, body.Success)
}

func TestHandler_ScanErrors(t *testing.T) {
	env := newHandlerEnv(t, true, 0)
	xTok := env.token(t, env.x.ID, auth.RoleTeam)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing qr", ScanRequest{}, http.StatusBadRequest, "QR_CODE_REQUIRED"},
		{"checkpoint qr", ScanRequest{QRCode: "CHECKPOINT-1"}, http.StatusBadRequest, "NOT_PERSONAL_QR"},
		{"own qr", ScanRequest{QRCode: "COOPQUEST-TEAM-Xylophones"}, http.StatusBadRequest, "SELF_SCAN"},
		{"unknown team", ScanRequest{QRCode: "COOPQUEST-TEAM-Ghosts"}, http.StatusNotFound, "TEAM_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, "/encounters/scan", xTok, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}

	w, body := env.do(t, http.MethodPost, "/encounters/scan", xTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, body = env.do(t, http.MethodPost, "/encounters/scan", xTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_ENCOUNTER", body.Code)

	zTok := env.token(t, env.z.ID, auth.RoleTeam)
	w, body = env.do(t, http.MethodPost, "/encounters/scan", zTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PARTNER_BUSY", body.Code)
}

func TestHandler_RequiresSession(t *testing.T) {
	env := newHandlerEnv(t, true, 0)

	w, _ := env.do(t, http.MethodPost, "/encounters/scan", "", ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(t, http.MethodGet, "/encounters/active", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	adminTok := env.token(t, uuid.Nil, auth.RoleAdmin)
	w, _ = env.do(t, http.MethodGet, "/encounters/active", adminTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "admin sessions have no team")
}

func TestHandler_ScanRateLimited(t *testing.T) {
	env := newHandlerEnv(t, true, time.Minute)
	xTok := env.token(t, env.x.ID, auth.RoleTeam)

	w, _ := env.do(t, http.MethodPost, "/encounters/scan", xTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Ghosts"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := env.do(t, http.MethodPost, "/encounters/scan", xTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", body.Code)

	yTok := env.token(t, env.y.ID, auth.RoleTeam)
	w, _ = env.do(t, http.MethodPost, "/encounters/scan", yTok, ScanRequest{QRCode: "COOPQUEST-TEAM-Zebras"})
	assert.Equal(t, http.StatusCreated, w.Code, "limit is per team")
}

func TestHandler_Reads(t *testing.T) {
	env := newHandlerEnv(t, true, 0)
	xTok := env.token(t, env.x.ID, auth.RoleTeam)
	zTok := env.token(t, env.z.ID, auth.RoleTeam)

	w, body := env.do(t, http.MethodGet, "/encounters/active", xTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"encounter":null}`, string(body.Data))

	e := env.start(t, env.x, env.y)

	w, body = env.do(t, http.MethodGet, "/encounters/active", xTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active struct {
		Encounter *View `json:"encounter"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &active))
	require.NotNil(t, active.Encounter)
	assert.Equal(t, e.ID, active.Encounter.ID)
	assert.True(t, active.Encounter.IsScanner)
	assert.Equal(t, 60, active.Encounter.TimeRemaining)

	w, _ = env.do(t, http.MethodGet, "/encounters/"+e.ID.String(), xTok, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = env.do(t, http.MethodGet, "/encounters/"+e.ID.String(), zTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body.Code)

	w, body = env.do(t, http.MethodGet, "/encounters/"+uuid.NewString(), xTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body.Code)

	w, _ = env.do(t, http.MethodGet, "/encounters/not-a-uuid", xTok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodGet, "/encounters/pending", xTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Teams []struct {
			Name string `json:"name"`
		} `json:"teams"`
		Stats struct {
			TotalTeams int `json:"total_teams"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &pending))
	require.Len(t, pending.Teams, 1)
	assert.Equal(t, "Zebras", pending.Teams[0].Name)
	assert.Equal(t, 2, pending.Stats.TotalTeams)

	w, body = env.do(t, http.MethodGet, "/encounters/history", env.token(t, env.y.ID, auth.RoleTeam), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []View
	require.NoError(t, json.Unmarshal(body.Data, &history))
	require.Len(t, history, 1)
	assert.False(t, history[0].IsScanner)
}

func TestHandler_AdminListByEvent(t *testing.T) {
	env := newHandlerEnv(t, true, 0)
	env.start(t, env.x, env.y)
	path := "/admin/events/" + env.eventID.String() + "/encounters"

	w, _ := env.do(t, http.MethodGet, path, env.token(t, env.x.ID, auth.RoleTeam), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := env.do(t, http.MethodGet, path, env.token(t, uuid.Nil, auth.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Encounters     []json.RawMessage `json:"encounters"`
		CompletedCount int               `json:"completed_count"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Len(t, out.Encounters, 1)
	assert.Zero(t, out.CompletedCount)
}

func TestHandler_InfrastructureErrorIsInternal(t *testing.T) {
	env := newHandlerEnv(t, true, 0)
	coord := NewCoordinator(env.store, env.teams, &challengeSet{err: errors.New("pool closed")}, env.notifier, env.clock, Options{PersonalQRPrefix: "COOPQUEST-TEAM-"}, nil)
	env.router = env.buildRouter(NewHandler(coord, nil), 0)

	w, body := env.do(t, http.MethodPost, "/encounters/scan", env.token(t, env.x.ID, auth.RoleTeam), ScanRequest{QRCode: "COOPQUEST-TEAM-Yaks"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body.Error)
	assert.Equal(t, response.CodeInternal, body.Code)
	assert.NotContains(t, w.Body.String(), "pool closed")
}
