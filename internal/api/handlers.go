package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/middleware"
)

// maxRecordBytes bounds the predict request body.
const maxRecordBytes = 64 << 10

// HealthResponse is the liveness document.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

// handleHealth reports liveness and whether the model is loaded
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Version: "not loaded"}
	if info, err := s.predictor.ModelInfo(); err == nil {
		resp.ModelLoaded = true
		resp.Version = info.Version
		if resp.Version == "" {
			resp.Version = "unknown"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handlePredict classifies one clinical record
func (s *Server) handlePredict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordBytes)

	var record domain.ClinicalRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.Set(middleware.OutcomeKey, "invalid_input")
		s.respondError(c, http.StatusUnprocessableEntity, domain.ErrCodeValidation, msgInvalidRecord,
			[]*domain.ValidationError{domain.NewValidationError("body", err.Error(), nil)})
		return
	}
	if errs := record.Validate(); len(errs) > 0 {
		c.Set(middleware.OutcomeKey, "invalid_input")
		s.respondError(c, http.StatusUnprocessableEntity, domain.ErrCodeValidation, msgInvalidRecord, errs)
		return
	}

	fields := logrus.Fields{"correlation_id": c.GetString(middleware.CorrelationIDKey)}
	if id := identityFrom(c); id != nil {
		fields["email"] = id.Email
		fields["subject"] = id.Subject
	}
	log := s.logger.WithFields(fields)
	log.WithFields(logrus.Fields{"glasgow": record.Glasgow, "fever_days": record.FeverDays}).Info("Prediction requested")
	log.WithFields(logrus.Fields(record.LogFields())).Debug("Prediction input")

	result, err := s.predictor.Predict(c.Request.Context(), &record)
	if err != nil {
		log.WithError(err).Warn("Prediction not served")
		s.respondServiceError(c, err)
		return
	}

	c.Set(middleware.OutcomeKey, "success")
	log.WithFields(logrus.Fields{
		"prediction": result.Prediction,
		"confidence": result.Confidence,
	}).Info("Prediction served")
	c.JSON(http.StatusOK, result)
}

// handleModelInfo returns the general model description
func (s *Server) handleModelInfo(c *gin.Context) {
	info, err := s.predictor.ModelInfo()
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleModelMetrics returns the evaluation summary
func (s *Server) handleModelMetrics(c *gin.Context) {
	m, err := s.predictor.ModelMetrics()
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// handleFeatureNames returns the post-encoding feature names in vector order
func (s *Server) handleFeatureNames(c *gin.Context) {
	names, err := s.predictor.FeatureNames()
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": names, "count": len(names)})
}
