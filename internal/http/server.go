// Package http serves the docqa REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/auth"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/documents"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/store"
)

// Accounts is the account surface the API exposes.
type Accounts interface {
	auth.Authenticator
	Register(ctx context.Context, email, password string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, userID int64) (*auth.PublicUser, error)
	DeleteAccount(ctx context.Context, userID int64, password string) error
}

// Documents is the document surface the API exposes.
type Documents interface {
	Upload(ctx context.Context, userID int64, up documents.Upload) (*documents.Uploaded, error)
	UploadBatch(ctx context.Context, userID int64, ups []documents.Upload) ([]*documents.Uploaded, error)
	List(ctx context.Context, userID int64) ([]store.Document, error)
	Open(ctx context.Context, userID, documentID int64) (*store.Document, *os.File, error)
	Delete(ctx context.Context, userID, documentID int64) error
}

// Jobs looks up ingest jobs.
type Jobs interface {
	Get(userID int64, id string) (jobs.Job, error)
}

// Answerer answers questions.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Result, error)
	AnswerStream(ctx context.Context, req answer.Request) (*answer.Stream, error)
}

// Services groups the handlers' collaborators.
type Services struct {
	Accounts  Accounts
	Documents Documents
	Jobs      Jobs
	Answers   Answerer
}

// Option configures a Server.
type Option func(*Server)

// WithMeter records HTTP metrics on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(s *Server) { s.meter = meter }
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	config   config.ServerConfig
	services Services
	logger   *logging.Logger
	meter    metric.Meter
	metrics  *HTTPMetrics
}

// NewServer creates the server and registers every route.
func NewServer(svc Services, cfg config.ServerConfig, logger *logging.Logger, opts ...Option) (*Server, error) {
	if svc.Accounts == nil || svc.Documents == nil || svc.Jobs == nil || svc.Answers == nil {
		return nil, errors.New("all services are required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		config:   cfg,
		services: svc,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewHTTPMetrics(s.meter, logger)

	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	// Metrics wrap the logger, which resolves handler errors into a status.
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var api *echo.Group
	if s.config.RateLimit > 0 {
		api = s.echo.Group("/api", newClientLimiter(s.config.RateLimit, s.config.RateBurst).Middleware(s.logger))
	} else {
		api = s.echo.Group("/api")
	}
	bearer := auth.BearerMiddleware(s.services.Accounts)

	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/logout", s.handleLogout, bearer)
	api.GET("/auth/profile", s.handleProfile, bearer)
	api.POST("/auth/delete-account", s.handleDeleteAccount, bearer)

	api.POST("/documents/upload", s.handleUpload, bearer)
	api.POST("/documents/upload/batch", s.handleUploadBatch, bearer)
	api.GET("/documents", s.handleListDocuments, bearer)
	api.DELETE("/documents/:id", s.handleDeleteDocument, bearer)
	api.GET("/documents/:id/download", s.handleDownload, bearer)

	api.GET("/jobs/:id", s.handleJob, bearer)

	api.POST("/knowledge/ask", s.handleAsk, bearer)
	api.POST("/knowledge/ask/stream", s.handleAskStream, bearer)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// the configured timeout. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
