package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/domain"
)

// InternalErrorMessage is returned when a handler panics.
const InternalErrorMessage = "Error interno del servidor. Intente nuevamente."

// AccessTrail hands one entry per request to rec after the handler ran.
// Entries carry who, which route and the outcome, never request bodies.
func AccessTrail(rec domain.AccessRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		outcome := c.GetString(OutcomeKey)
		if outcome == "" {
			outcome = outcomeForStatus(status)
		}

		rec.Record(domain.AccessEntry{
			Timestamp:     start.UTC(),
			CorrelationID: c.GetString(CorrelationIDKey),
			Subject:       c.GetString(SubjectKey),
			Method:        c.Request.Method,
			Route:         route,
			Status:        status,
			Outcome:       outcome,
			LatencyMs:     time.Since(start).Milliseconds(),
			ClientIP:      c.ClientIP(),
		})
	}
}

func outcomeForStatus(status int) string {
	switch {
	case status < 400:
		return "success"
	case status == http.StatusUnauthorized:
		return "unauthenticated"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

// Recovery turns a handler panic into a generic 500 and logs the cause.
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.WithFields(logrus.Fields{
			"correlation_id": c.GetString(CorrelationIDKey),
			"path":           c.Request.URL.Path,
			"panic":          fmt.Sprint(recovered),
		}).Error("Recovered from handler panic")

		c.Set(OutcomeKey, "panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrCodeInternalServer, InternalErrorMessage, nil, c.GetString(CorrelationIDKey),
		))
	})
}
