package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/models"
)

const userKey = "user"

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireUser rejects requests without a live session with 401.
func (s *Server) requireUser(c *gin.Context) {
	user, err := s.auth.Authenticate(c.Request.Context(), bearerToken(c))
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindPermission, apperr.KindExpired, apperr.KindNotFound:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.UserMessage(err)})
		default:
			s.fail(c, err)
		}
		return
	}
	c.Set(userKey, user)
	c.Next()
}

// optionalUser attaches the session user when a valid token is sent.
func (s *Server) optionalUser(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		if user, err := s.auth.Authenticate(c.Request.Context(), token); err == nil {
			c.Set(userKey, user)
		}
	}
	c.Next()
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		return v.(*models.User)
	}
	return nil
}

func currentUserID(c *gin.Context) string {
	if u := currentUser(c); u != nil {
		return u.ID
	}
	return ""
}
