package teams

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/pkg/response"
)

// Handler serves team read routes.
type Handler struct {
	leaderboard *Leaderboard
	logger      *zap.Logger
}

// NewHandler creates a teams handler.
func NewHandler(leaderboard *Leaderboard, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{leaderboard: leaderboard, logger: logger}
}

// Leaderboard GET /events/:id/leaderboard
func (h *Handler) Leaderboard(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	standings, err := h.leaderboard.Standings(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("leaderboard", zap.String("event_id", eventID.String()), zap.Error(err))
		response.Internal(c, "failed to load leaderboard")
		return
	}
	response.OK(c, standings)
}
