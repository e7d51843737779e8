package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/auth"
	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/middleware"
)

const identityKey = "identity"

// bearerToken extracts the credential from an Authorization header. Any
// other scheme yields an empty token.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAuth verifies the bearer token and stores the identity on the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.verifier.Verify(c.Request.Context(), bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			s.unauthorized(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Set(middleware.SubjectKey, id.Subject)
		s.logger.WithFields(logrus.Fields{
			"subject":        id.Subject,
			"dev_mode":       id.DevMode,
			"expires_in":     auth.ExpiresIn(id, time.Now()).Round(time.Second).String(),
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
		}).Debug("Request authenticated")
		c.Next()
	}
}

func identityFrom(c *gin.Context) *domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*domain.Identity)
	return id
}
