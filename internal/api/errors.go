package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/middleware"
)

// Response messages shown to clinicians.
const (
	msgTokenExpired   = "Token expirado, inicie sesión nuevamente"
	msgTokenInvalid   = "Token de autenticación inválido"
	msgModelNotReady  = "Modelo no cargado"
	msgInference      = "Error al procesar la predicción. Intente nuevamente."
	msgInvalidRecord  = "Datos clínicos inválidos"
	msgRequestTimeout = "La solicitud excedió el tiempo de espera"
)

func (s *Server) respondError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationIDKey)))
}

// unauthorized answers a rejected credential.
func (s *Server) unauthorized(c *gin.Context, err error) {
	message := msgTokenInvalid
	if kind, ok := domain.AuthKind(err); ok && kind == domain.AuthTokenExpired {
		message = msgTokenExpired
	}
	c.Set(middleware.OutcomeKey, "unauthenticated")
	c.Header("WWW-Authenticate", "Bearer")
	s.respondError(c, http.StatusUnauthorized, domain.ErrCodeAuthentication, message, nil)
}

// respondServiceError maps a predictor error to its HTTP form. Internal
// detail stays in the server log.
func (s *Server) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrModelNotReady):
		c.Set(middleware.OutcomeKey, "model_not_ready")
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeModelNotReady, msgModelNotReady, nil)
	case errors.Is(err, context.DeadlineExceeded):
		c.Set(middleware.OutcomeKey, "timeout")
		s.respondError(c, http.StatusGatewayTimeout, domain.ErrCodeTimeout, msgRequestTimeout, nil)
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		c.Set(middleware.OutcomeKey, "cancelled")
		c.AbortWithStatus(499)
	case errors.Is(err, domain.ErrInferenceFailed):
		c.Set(middleware.OutcomeKey, "inference_failed")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInference, msgInference, nil)
	default:
		c.Set(middleware.OutcomeKey, "error")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, middleware.InternalErrorMessage, nil)
	}
}
