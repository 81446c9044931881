package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coopquest/backend/pkg/response"
)

// TeamSession returns the team and event of the request's session.
// ok is false for sessions without a team (admin tokens).
func TeamSession(c *gin.Context) (teamID, eventID uuid.UUID, ok bool) {
	teamID, _ = c.MustGet(ContextTeamID).(uuid.UUID)
	eventID, _ = c.MustGet(ContextEventID).(uuid.UUID)
	return teamID, eventID, teamID != uuid.Nil && eventID != uuid.Nil
}

// RequireTeam rejects sessions that do not identify a team playing an event.
func RequireTeam() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextTeamID); !ok {
			response.Unauthorized(c, "missing session context")
			c.Abort()
			return
		}
		if _, _, ok := TeamSession(c); !ok {
			response.Forbidden(c, "team session required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRole allows sessions whose role claim is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextRole); !ok {
			response.Unauthorized(c, "missing session context")
			c.Abort()
			return
		}
		if !allowed[c.GetString(ContextRole)] {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
