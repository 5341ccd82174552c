// Package server exposes the verification pipeline over REST and a
// websocket event stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ppiankov/axiom/internal/agent"
	"github.com/ppiankov/axiom/internal/model"
	"github.com/ppiankov/axiom/internal/observability"
	"github.com/ppiankov/axiom/internal/pipeline"
	"github.com/ppiankov/axiom/internal/worker"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server serves the verification API
type Server struct {
	addr          string
	defaultDomain string
	backend       string
	version       string
	pipeline      *pipeline.Pipeline
	store         *SessionStore
	metrics       *observability.Metrics
	logger        *zap.Logger
	limiter       *worker.Limiter
	engine        *gin.Engine
	upgrader      websocket.Upgrader
}

// Option configures a Server
type Option func(*Server)

// WithMetrics serves the registry on /metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported on /
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds the router around p
func New(cfg *model.Config, p *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		addr:          cfg.Server.Addr,
		defaultDomain: cfg.Extraction.DefaultDomain,
		backend:       cfg.LLM.Provider,
		version:       "dev",
		pipeline:      p,
		store:         NewSessionStore(cfg.Server.SessionTTL),
		logger:        zap.NewNop(),
		limiter:       worker.NewLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == "" {
		s.backend = "none"
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	limited := s.rateLimit()
	api := r.Group("/api")
	api.POST("/verify", limited, s.handleVerify)
	api.POST("/extract-claims", limited, s.handleExtract)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.GET("/agents", s.handleAgents)
	api.POST("/demo/:scenario", limited, s.handleDemo)

	r.GET("/ws/verify", limited, s.handleStream)
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Store returns the session store
func (s *Server) Store() *SessionStore {
	return s.store
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.addr), zap.String("backend", s.backend))
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
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// rateLimit rejects clients that exceed server.requests_per_second.
// A non-positive rate admits everything.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// VerifyRequest is the body of /api/verify, /api/extract-claims and a
// websocket message
type VerifyRequest struct {
	Prompt      string             `json:"prompt"`
	Response    string             `json:"response"`
	Domain      string             `json:"domain"`
	GroundTruth map[string]float64 `json:"ground_truth,omitempty"`
}

func (s *Server) request(body VerifyRequest) pipeline.Request {
	domain := strings.TrimSpace(body.Domain)
	if domain == "" {
		domain = s.defaultDomain
	}
	return pipeline.Request{
		Prompt:      body.Prompt,
		Response:    body.Response,
		Domain:      domain,
		GroundTruth: body.GroundTruth,
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "axiom",
		"version": s.version,
		"backend": s.backend,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"verifiers": s.pipeline.Registry().Len(),
		"sessions":  s.store.Len(),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	var body VerifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.Response) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "response text is required"})
		return
	}
	s.verify(c, s.request(body))
}

func (s *Server) verify(c *gin.Context, req pipeline.Request) {
	session, err := s.pipeline.Run(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("verification aborted", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.Put(session); err != nil {
		s.logger.Warn("failed to store session", zap.String("session_id", session.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *Server) handleExtract(c *gin.Context) {
	var body VerifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	req := s.request(body)
	claims, err := s.pipeline.Extract(c.Request.Context(), req.Response, req.Domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.store.List()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// AgentInfo describes a registered verifier
type AgentInfo struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
}

func (s *Server) handleAgents(c *gin.Context) {
	agents := []AgentInfo{}
	for _, v := range s.pipeline.Registry().Verifiers() {
		info := AgentInfo{Name: v.Name()}
		if d, ok := v.(agent.Describer); ok {
			info.Specialty = d.Specialty()
		}
		agents = append(agents, info)
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) handleDemo(c *gin.Context) {
	req, ok := demoRequest(c.Param("scenario"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown demo scenario", "available": DemoScenarios()})
		return
	}
	s.verify(c, req)
}
