// Package http provides the Mirror Agent HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/collections"
	"github.com/fyrsmithlabs/mirroragent/internal/curator"
	"github.com/fyrsmithlabs/mirroragent/internal/kpi"
	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
	"github.com/fyrsmithlabs/mirroragent/internal/registry"
	"github.com/fyrsmithlabs/mirroragent/internal/routing"
	"github.com/fyrsmithlabs/mirroragent/internal/security"
	"github.com/fyrsmithlabs/mirroragent/internal/store"
)

const defaultViolationLimit = 50

// Agents resolves a site's agent, loading it on first use.
type Agents interface {
	GetOrCreate(ctx context.Context, siteID string) (*registry.Agent, error)
}

// Gate is the security surface exposed over HTTP.
type Gate interface {
	Scrub(ctx context.Context, siteID, text string) (*security.ScrubResult, error)
	Violations(ctx context.Context, siteID string, limit int) ([]*mirror.SecurityViolation, error)
}

// KPIRunner runs a golden set against a router.
type KPIRunner interface {
	Run(ctx context.Context, siteID string, router kpi.Router, set *kpi.GoldenSet) (*kpi.Report, error)
}

// Server provides HTTP endpoints for mirror agents.
type Server struct {
	echo   *echo.Echo
	agents Agents
	gate   Gate
	kpi    KPIRunner
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// CuratorLookback bounds the interactions an on-demand cycle reads.
	CuratorLookback time.Duration
	// GoldenSet is used by on-demand KPI runs. Nil uses the embedded set.
	GoldenSet *kpi.GoldenSet
}

// NewServer creates a new HTTP server.
func NewServer(agents Agents, gate Gate, runner KPIRunner, logger *zap.Logger, cfg *Config) (*Server, error) {
	if agents == nil || gate == nil {
		return nil, fmt.Errorf("agents and gate cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("kpi runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}
	if cfg.CuratorLookback <= 0 {
		cfg.CuratorLookback = 24 * time.Hour
	}
	if cfg.GoldenSet == nil {
		cfg.GoldenSet = kpi.DefaultGoldenSet()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		agents: agents,
		gate:   gate,
		kpi:    runner,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	sites := s.echo.Group("/api/v1/sites/:site")
	sites.GET("", s.handleSite)
	sites.POST("/ask", s.handleAsk)
	sites.POST("/scrub", s.handleScrub)
	sites.POST("/curator/run", s.handleCuratorRun)
	sites.POST("/kpi/run", s.handleKPIRun)
	sites.GET("/violations", s.handleViolations)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SiteResponse is the response body for GET /api/v1/sites/:site.
type SiteResponse struct {
	SiteID     string                  `json:"site_id"`
	Stores     mirror.StoreIDs         `json:"stores"`
	Thresholds mirror.RouterThresholds `json:"thresholds"`
	Policy     routing.ScoringPolicy   `json:"policy"`
	Stats      routing.Stats           `json:"stats"`
}

// AskRequest is the request body for POST /api/v1/sites/:site/ask.
type AskRequest struct {
	Question string `json:"question"`
	// Origin is the host the question came from. When empty the Origin
	// header is used.
	Origin string `json:"origin,omitempty"`
}

// ScrubRequest is the request body for POST /api/v1/sites/:site/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/sites/:site/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// DeniedResponse is returned with 403 when the security gate rejects a question.
type DeniedResponse struct {
	Error     string   `json:"error"`
	Check     string   `json:"check"`
	Reason    string   `json:"reason,omitempty"`
	Offending []string `json:"offending,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) agent(c echo.Context) (*registry.Agent, error) {
	return s.agents.GetOrCreate(c.Request().Context(), c.Param("site"))
}

func (s *Server) handleSite(c echo.Context) error {
	a, err := s.agent(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SiteResponse{
		SiteID:     a.SiteID,
		Stores:     a.Stores,
		Thresholds: a.Router.Thresholds(),
		Policy:     a.Router.Policy(),
		Stats:      a.Router.Stats(),
	})
}

// handleAsk routes a visitor question through the site's agent.
func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ask request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	origin := req.Origin
	if origin == "" {
		origin = originHost(c.Request().Header.Get(echo.HeaderOrigin))
	}

	a, err := s.agent(c)
	if err != nil {
		return err
	}
	answer, err := a.Ask(c.Request().Context(), origin, req.Question)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, answer)
}

// handleScrub redacts PII from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	a, err := s.agent(c)
	if err != nil {
		return err
	}
	result, err := s.gate.Scrub(c.Request().Context(), a.SiteID, req.Content)
	if err != nil {
		return err
	}
	s.logger.Debug("scrubbed content",
		zap.String("site_id", a.SiteID),
		zap.Int("findings", len(result.Detections)),
	)
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Text,
		FindingsCount: len(result.Detections),
	})
}

func (s *Server) handleCuratorRun(c echo.Context) error {
	a, err := s.agent(c)
	if err != nil {
		return err
	}
	res, err := a.Curator.RunCycle(c.Request().Context(), s.config.CuratorLookback)
	if err != nil {
		if errors.Is(err, curator.ErrCycleRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleKPIRun(c echo.Context) error {
	a, err := s.agent(c)
	if err != nil {
		return err
	}
	report, err := s.kpi.Run(c.Request().Context(), a.SiteID, a.Router, s.config.GoldenSet)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleViolations(c echo.Context) error {
	limit := defaultViolationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	vs, err := s.gate.Violations(c.Request().Context(), c.Param("site"), limit)
	if err != nil {
		return err
	}
	if vs == nil {
		vs = []*mirror.SecurityViolation{}
	}
	return c.JSON(http.StatusOK, vs)
}

// originHost extracts the host from an Origin header value.
func originHost(origin string) string {
	if origin == "" || origin == "null" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// errorHandler maps domain errors onto status codes before delegating to
// echo's default handler.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var denied *registry.DeniedError
		if errors.As(err, &denied) && !c.Response().Committed {
			resp := DeniedResponse{Error: "request denied", Check: denied.Check}
			if denied.Verdict != nil {
				resp.Reason = denied.Verdict.Reason
				resp.Offending = denied.Verdict.Offending
			}
			_ = c.JSON(http.StatusForbidden, resp)
			return
		}
		e.DefaultHTTPErrorHandler(statusError(err), c)
	}
}

func statusError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, mirror.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, collections.ErrIncomplete), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, mirror.ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
