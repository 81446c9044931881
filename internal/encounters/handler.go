package encounters

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/internal/middleware"
	"github.com/coopquest/backend/pkg/response"
)

// ScanRequest is the body for POST /encounters/scan.
type ScanRequest struct {
	QRCode string `json:"qr_code"`
}

// AnswerRequest is the body for POST /encounters/:id/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// Handler handles encounter HTTP endpoints.
type Handler struct {
	coord  *Coordinator
	logger *zap.Logger
}

// NewHandler creates an encounters handler.
func NewHandler(coord *Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, logger: logger}
}

// RegisterRoutes mounts the team routes on a group that already runs the JWT middleware.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup, scanLimit gin.HandlerFunc) {
	g := api.Group("/encounters", middleware.RequireTeam())
	if scanLimit != nil {
		g.POST("/scan", scanLimit, h.Scan)
	} else {
		g.POST("/scan", h.Scan)
	}
	g.POST("/:id/answer", h.Answer)
	g.GET("/active", h.Active)
	g.GET("/history", h.History)
	g.GET("/pending", h.Pending)
	g.GET("/:id", h.Get)
}

// Scan handles POST /encounters/scan.
func (h *Handler) Scan(c *gin.Context) {
	teamID, eventID, _ := middleware.TeamSession(c)

	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.coord.InitiateByQR(c.Request.Context(), eventID, teamID, req.QRCode)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"message":      "Encounter started!",
		"encounter":    res.Encounter,
		"scanned_team": res.ScannedTeam,
		"time_limit":   int(res.Encounter.TimeLimit(h.coord.opts.DefaultTimeLimit).Seconds()),
	})
}

// Answer handles POST /encounters/:id/answer.
func (h *Handler) Answer(c *gin.Context) {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid encounter id")
		return
	}
	teamID, _, _ := middleware.TeamSession(c)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.coord.SubmitAnswer(c.Request.Context(), encounterID, teamID, req.Answer)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "Answer submitted! Waiting for the other team..."
	if res.Completed {
		if res.Success {
			msg = "Encounter completed!"
		} else {
			msg = "Encounter failed"
		}
	}
	response.OK(c, gin.H{"message": msg, "result": res})
}

// Get handles GET /encounters/:id.
func (h *Handler) Get(c *gin.Context) {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid encounter id")
		return
	}
	teamID, _, _ := middleware.TeamSession(c)

	v, err := h.coord.Get(c.Request.Context(), encounterID, teamID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, v)
}

// Active handles GET /encounters/active. encounter is null when the team is free.
func (h *Handler) Active(c *gin.Context) {
	teamID, _, _ := middleware.TeamSession(c)
	v, err := h.coord.Active(c.Request.Context(), teamID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"encounter": v})
}

// History handles GET /encounters/history.
func (h *Handler) History(c *gin.Context) {
	teamID, eventID, _ := middleware.TeamSession(c)
	list, err := h.coord.History(c.Request.Context(), teamID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Pending handles GET /encounters/pending: teams still to meet plus stats.
func (h *Handler) Pending(c *gin.Context) {
	teamID, eventID, _ := middleware.TeamSession(c)
	ctx := c.Request.Context()

	candidates, err := h.coord.Candidates(ctx, teamID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.coord.Stats(ctx, teamID, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"teams": candidates, "stats": stats})
}

// ListByEvent handles GET /admin/events/:id/encounters (admin).
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	ctx := c.Request.Context()
	list, err := h.coord.ListByEvent(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	completed, err := h.coord.CompletedCount(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"encounters": list, "completed_count": completed})
}

// StatusFor maps a domain error code to an HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	switch code {
	case "QR_CODE_REQUIRED", "NOT_PERSONAL_QR", "SELF_SCAN", "ANSWER_REQUIRED":
		return http.StatusBadRequest
	case "FORBIDDEN", "CROSS_EVENT":
		return http.StatusForbidden
	case "TEAM_NOT_FOUND", "NOT_FOUND":
		return http.StatusNotFound
	case "DUPLICATE_ENCOUNTER", "ENCOUNTER_IN_PROGRESS", "PARTNER_BUSY", "ALREADY_ANSWERED":
		return http.StatusConflict
	case "ENCOUNTER_CLOSED":
		return http.StatusUnprocessableEntity
	case "NO_CHALLENGE_AVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := Code(err)
	if code == "" {
		h.logger.Error("encounter request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Internal(c, "internal error")
		return
	}
	response.Fail(c, StatusFor(code), code, err.Error())
}
