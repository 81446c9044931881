package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coopquest/backend/internal/auth"
	"github.com/coopquest/backend/pkg/response"
)

const (
	// ContextTeamID is the key for team ID in gin context.
	ContextTeamID = "team_id"
	// ContextEventID is the key for event ID in gin context.
	ContextEventID = "event_id"
	// ContextTeamName is the key for team name in gin context.
	ContextTeamName = "team_name"
	// ContextRole is the key for session role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that validates JWT and sets session claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextTeamID, claims.TeamID)
		c.Set(ContextEventID, claims.EventID)
		c.Set(ContextTeamName, claims.TeamName)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
