// Package httpapi is a read-only status/debug surface over the runtime's
// internal state: goals, decisions, blueprints, artifacts, and the event
// bus. It never accepts a mutating request — it exists for operators and
// dashboards, not for agent tool calls.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/infrastructure/monitoring"
	"github.com/ag3nt-run/ag3nt/pkg/safego"
)

// Config configures the HTTP server's bind address and gin run mode.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// Server serves the read-only status API.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds a Server with routes wired against whichever
// dependencies are non-nil — a dependency left nil simply yields a 501 for
// the routes that need it, so a partially-wired composition root still
// starts cleanly.
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLog(logger, deps.Monitor))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
	router.GET("/api/v1/runtime", getRuntime)

	if deps.Monitor != nil {
		router.GET("/metrics", gin.WrapH(deps.Monitor.Handler()))
	}

	if deps.WS != nil {
		router.GET("/ws", gin.WrapF(deps.WS.ServeWS))
	}

	h := newHandlers(deps, logger)
	v1 := router.Group("/api/v1")
	{
		v1.GET("/goals", h.listGoals)
		v1.GET("/goals/status", h.goalStatus)

		v1.GET("/decisions/recent", h.recentDecisions)
		v1.GET("/decisions/stats", h.decisionStats)

		v1.GET("/blueprints/:session/active", h.activeBlueprint)
		v1.GET("/blueprints/:session/active.html", h.activeBlueprintHTML)
		v1.GET("/blueprints/recent", h.recentBlueprints)

		v1.GET("/events/metrics", h.eventMetrics)
		v1.GET("/events/dlq", h.eventDLQ)

		v1.GET("/artifacts", h.listArtifacts)
		v1.GET("/artifacts/stats", h.artifactStats)

		v1.GET("/pool/stats", h.poolStats)
		v1.GET("/cache/stats", h.cacheStats)
		v1.GET("/compaction/status", h.compactionStatus)

		v1.GET("/snapshots", h.listSnapshots)
		v1.GET("/sessions/:session/actions", h.sessionActions)
		v1.GET("/run/state", h.runState)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start launches the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting status API", zap.String("address", s.server.Addr))
	safego.Go(s.logger, "status-api-listener", func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status API server error", zap.Error(err))
		}
	})
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping status API")
	return s.server.Shutdown(ctx)
}

func getRuntime(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"go_version":    runtime.Version(),
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc_mb": float64(mem.Alloc) / 1024 / 1024,
			"sys_mb":   float64(mem.Sys) / 1024 / 1024,
			"num_gc":   mem.NumGC,
		},
		"timestamp": time.Now().Unix(),
	})
}

func accessLog(logger *zap.Logger, monitor *monitoring.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Debug("http request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
		)
		monitor.RecordHTTPRequest(method, path, status, latency)
	}
}
