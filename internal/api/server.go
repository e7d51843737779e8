// Package api exposes the prediction service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
	"github.com/febrile-severity-server/internal/middleware"
)

const defaultShutdownTimeout = 30 * time.Second

// Dependencies are the collaborators the server is built from. Metrics,
// Recorder and AccessLog are optional.
type Dependencies struct {
	Verifier  domain.TokenVerifier
	Predictor domain.Predictor
	Logger    *logrus.Logger
	Metrics   *metrics.Collector
	Recorder  domain.AccessRecorder
	AccessLog io.Writer
}

// Server represents the HTTP server
type Server struct {
	cfg       *domain.Config
	verifier  domain.TokenVerifier
	predictor domain.Predictor
	logger    *logrus.Logger
	metrics   *metrics.Collector
	router    *gin.Engine
	server    *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, deps Dependencies) (*Server, error) {
	if deps.Verifier == nil || deps.Predictor == nil || deps.Logger == nil {
		return nil, errors.New("api: verifier, predictor and logger are required")
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	// client IPs key the rate limiter; forwarding headers only count from
	// configured proxies
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}

	router.Use(middleware.CorrelationID())
	router.Use(middleware.Metrics(deps.Metrics))
	if deps.Recorder != nil {
		router.Use(middleware.AccessTrail(deps.Recorder))
	}
	if deps.AccessLog != nil {
		router.Use(middleware.AuditLogger(deps.AccessLog, "/health", "/api/health", metricsPath(cfg)))
	}
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	s := &Server{
		cfg:       cfg,
		verifier:  deps.Verifier,
		predictor: deps.Predictor,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		router:    router,
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		var err error
		limiter, err = middleware.NewRateLimiter(cfg.RateLimit, deps.Metrics)
		if err != nil {
			return nil, fmt.Errorf("creating rate limiter: %w", err)
		}
	}

	s.setupRoutes(limiter)
	return s, nil
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(limiter *middleware.RateLimiter) {
	s.router.NoRoute(func(c *gin.Context) {
		s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Recurso no encontrado", nil)
	})
	s.router.NoMethod(func(c *gin.Context) {
		s.respondError(c, http.StatusMethodNotAllowed, domain.ErrCodeInvalidInput, "Método no permitido", nil)
	})

	s.router.GET("/health", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.GET(metricsPath(s.cfg), gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		predict := []gin.HandlerFunc{}
		if limiter != nil {
			predict = append(predict, limiter.Middleware())
		}
		predict = append(predict, s.requireAuth(), s.handlePredict)
		api.POST("/predict", predict...)

		model := api.Group("/model")
		{
			model.GET("/info", s.handleModelInfo)
			model.GET("/metrics", s.handleModelMetrics)
			model.GET("/features", s.handleFeatureNames)
		}
	}
}

func metricsPath(cfg *domain.Config) string {
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr": addr,
			"tls":  cfg.TLSEnabled,
		}).Info("HTTP server listening")

		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}
