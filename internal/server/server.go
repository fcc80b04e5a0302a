// Package server is the local HTTP surface: teleport ingress, SSE terminal
// streams, reload coordination, and the setup-link handshake.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/config"
	"github.com/teleclaude/teleclaude/internal/common/httpmw"
	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/orchestrator"
	"github.com/teleclaude/teleclaude/internal/reload"
	"github.com/teleclaude/teleclaude/internal/setuplink"
	"github.com/teleclaude/teleclaude/internal/teleport"
)

const setupLinkPollTimeout = 300 * time.Second

// Server hosts the teleclaude HTTP API.
type Server struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	reloadC *reload.Coordinator
	links   *setuplink.Registry
	logger  *logger.Logger

	engine  *gin.Engine
	httpSrv *http.Server

	hasFrontend bool
	// shutdown triggers a graceful process exit; used by the wrapper
	// auto-shutdown when the last SSE consumer detaches.
	shutdown func()

	keepalive time.Duration
	sseConns  atomic.Int64
}

// New builds the server and its routes.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, reloadC *reload.Coordinator, links *setuplink.Registry, hasFrontend bool, shutdown func(), log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(log, "teleclaude"))
	engine.Use(httpmw.OtelTracing("teleclaude"))

	s := &Server{
		cfg:         cfg,
		orch:        orch,
		reloadC:     reloadC,
		links:       links,
		logger:      log.WithFields(zap.String("component", "server")),
		engine:      engine,
		hasFrontend: hasFrontend,
		shutdown:    shutdown,
		keepalive:   30 * time.Second,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST("/teleport", s.handleTeleport)
	s.engine.GET("/stream", s.handleStream)

	api := s.engine.Group("/api")
	api.GET("/can-reload", s.handleCanReload)
	api.POST("/request-reload", s.handleRequestReload)
	api.POST("/force-reload", s.handleForceReload)
	api.POST("/prepare-reload", s.handlePrepareReload)
	api.POST("/setup-link", s.handleRegisterSetupLink)
	api.GET("/setup-link/:token", s.handleAwaitSetupLink)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleTeleport(c *gin.Context) {
	var req teleport.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	if req.TerminalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id required"})
		return
	}
	if !s.cfg.IsConfigured() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server not configured"})
		return
	}

	s.orch.Teleport(c.Request.Context(), s.cfg.ChatIdentity(), &req)
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Teleport initiated"})
}

func (s *Server) handleCanReload(c *gin.Context) {
	c.JSON(http.StatusOK, s.reloadC.Status())
}

func (s *Server) handleRequestReload(c *gin.Context) {
	st := s.reloadC.RequestReload()
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"can_reload": st.CanReload,
		"waiting":    !st.CanReload,
	})
}

func (s *Server) handleForceReload(c *gin.Context) {
	s.reloadC.ForceReload()
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Force reload enabled"})
}

func (s *Server) handlePrepareReload(c *gin.Context) {
	s.reloadC.PrepareReload()
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Ready for reload"})
}

func (s *Server) handleRegisterSetupLink(c *gin.Context) {
	if !s.hasFrontend {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no chat frontend available"})
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	s.links.Register(body.Token)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleAwaitSetupLink(c *gin.Context) {
	token := c.Param("token")

	ctx, cancel := context.WithTimeout(c.Request.Context(), setupLinkPollTimeout)
	defer cancel()

	res, err := s.links.Await(ctx, token)
	switch {
	case errors.Is(err, setuplink.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "link timed out"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"user_id":  res.UserID,
			"username": res.Username,
		})
	}
}

// onStreamClose runs the wrapper auto-shutdown check after an SSE consumer
// detaches: a wrapper-managed server with no consumers and no live agent
// handles has nothing left to do.
func (s *Server) onStreamClose() {
	remaining := s.sseConns.Add(-1)
	if remaining > 0 {
		return
	}
	if os.Getenv("WRAPPER_PID") == "" || s.shutdown == nil {
		return
	}
	if s.orch.HasLiveHandles() {
		return
	}
	s.logger.Info("last stream closed with no live sessions, shutting down")
	go s.shutdown()
}
