package challenges

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coopquest/backend/pkg/response"
)

// Handler serves admin challenge reads.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a challenges handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByEvent GET /admin/events/:id/challenges
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.repo.ListActiveByEvent(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("list challenges", zap.Error(err))
		response.Internal(c, "failed to list challenges")
		return
	}
	response.OK(c, list)
}

// Get GET /admin/challenges/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid challenge id")
		return
	}
	ch, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get challenge", zap.Error(err))
		response.Internal(c, "failed to load challenge")
		return
	}
	if ch == nil {
		response.NotFound(c, "challenge not found")
		return
	}
	response.OK(c, ch)
}
