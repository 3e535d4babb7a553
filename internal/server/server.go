// Package server exposes the emission pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rezonia/nfse-issuer/internal/authority"
	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/metrics"
	"github.com/rezonia/nfse-issuer/internal/model"
	"github.com/rezonia/nfse-issuer/internal/processor"
	"github.com/rezonia/nfse-issuer/internal/signer"
)

const (
	requestTimeout  = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// HealthCheck reports the health of a dependency
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	config      *Config
	router      *gin.Engine
	pipeline    *processor.Pipeline
	metrics     *metrics.Metrics
	certificate signer.CertificateRef
	checks      map[string]HealthCheck
	logger      *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetrics exposes m on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCertificate sets the signing certificate used for every request
func WithCertificate(ref signer.CertificateRef) Option {
	return func(s *Server) {
		s.certificate = ref
	}
}

// WithHealthCheck adds a named dependency check to /health
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server around pipeline
func NewServer(config *Config, pipeline *processor.Pipeline, opts ...Option) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		config:   config,
		router:   router,
		pipeline: pipeline,
		checks:   make(map[string]HealthCheck),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/dps", s.handleEmit)
		v1.GET("/dps/:id", s.handleStatus)
		v1.GET("/dps/:id/xml", s.handleXML)
		v1.POST("/dps/:id/cancel", s.handleCancel)

		v1.POST("/classify", s.handleClassify)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("address", s.config.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(c.Request.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	c.JSON(status, resp)
}

func (s *Server) handleEmit(c *gin.Context) {
	var in dps.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := s.pipeline.Emit(ctx, in, s.certificate)
	if err != nil {
		s.fail(c, err, result)
		return
	}
	status := http.StatusCreated
	if result.AlreadyAuthorized {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	result, err := s.pipeline.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleXML(c *gin.Context) {
	result, err := s.pipeline.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	if len(result.XML) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "document has no XML yet"})
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", result.XML)
}

func (s *Server) handleCancel(c *gin.Context) {
	var req processor.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := s.pipeline.Cancel(ctx, c.Param("id"), req, s.certificate)
	if err != nil {
		s.fail(c, err, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClassify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Code == "" && req.Body == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "code or body is required"})
		return
	}

	classifier := s.pipeline.Classifier()
	code := req.Code
	if code == "" {
		code = authority.ReturnCode([]byte(req.Body))
	}
	res := classifier.Evaluate(code, req.HTTPStatus, []byte(req.Body))
	c.JSON(http.StatusOK, ClassifyResponse{
		Code:       res.Code,
		Convention: classifier.Convention().Name,
		Outcome:    res.Outcome(),
		IsSuccess:  res.IsSuccess,
		IsAlert:    res.IsAlert,
		IsError:    res.IsError,
		Messages:   res.Messages,
	})
}

// fail maps pipeline errors onto HTTP statuses
func (s *Server) fail(c *gin.Context, err error, doc *processor.Result) {
	resp := ErrorResponse{Error: err.Error(), Document: doc}
	status := http.StatusInternalServerError

	var (
		validation *model.ValidationError
		signing    *model.SigningError
		rejection  *model.AuthorityRejection
		transition *model.InvalidTransitionError
		network    *model.TransmissionNetworkError
		structural *model.StructuralAssemblyError
	)
	switch {
	case errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
		resp.Field = validation.Field
	case errors.As(err, &signing):
		status = http.StatusUnprocessableEntity
		resp.Code = signing.Code
	case errors.As(err, &rejection):
		status = http.StatusUnprocessableEntity
		resp.Code = rejection.Code
		resp.Messages = rejection.Messages
	case errors.As(err, &transition):
		status = http.StatusConflict
	case errors.As(err, &network):
		status = http.StatusGatewayTimeout
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, processor.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.As(err, &structural):
		s.logger.Error("xml assembly defect", slog.String("error", err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, resp)
}
