package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/artifact"
	"github.com/ag3nt-run/ag3nt/internal/domain/blueprint"
	"github.com/ag3nt-run/ag3nt/internal/domain/compaction"
	"github.com/ag3nt-run/ag3nt/internal/domain/goal"
	"github.com/ag3nt-run/ag3nt/internal/domain/orchestrator"
	"github.com/ag3nt-run/ag3nt/internal/domain/pool"
	"github.com/ag3nt-run/ag3nt/internal/domain/policy"
	"github.com/ag3nt-run/ag3nt/internal/domain/revert"
	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
	"github.com/ag3nt-run/ag3nt/internal/domain/toolcache"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/eventbus"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/monitoring"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/wsstream"
)

// Dependencies wires each status route to its backing collaborator. Any
// field left nil yields a 501 for the routes that need it, so a partial
// composition root still starts.
type Dependencies struct {
	Goals        *goal.Manager
	Audit        *policy.AuditLogger
	Blueprints   *blueprint.Manager
	Events       *eventbus.Bus
	Artifacts    *artifact.Store
	Pool         *pool.Pool
	Cache        *toolcache.Cache
	Compaction   *compaction.Pipeline
	Snapshots    *snapshot.Registry
	Revert       *revert.Controller
	Monitor      *monitoring.Monitor
	Orchestrator *orchestrator.Orchestrator
	// WS, when set, mounts the live event stream at /ws on this same
	// listener instead of requiring a second port.
	WS *wsstream.Handler
}

type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func newHandlers(deps Dependencies, logger *zap.Logger) *handlers {
	return &handlers{deps: deps, logger: logger}
}

func notWired(c *gin.Context, what string) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": what + " is not wired in this deployment"})
}

func (h *handlers) listGoals(c *gin.Context) {
	if h.deps.Goals == nil {
		notWired(c, "goal manager")
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": h.deps.Goals.ListGoals()})
}

func (h *handlers) goalStatus(c *gin.Context) {
	if h.deps.Goals == nil {
		notWired(c, "goal manager")
		return
	}
	c.JSON(http.StatusOK, h.deps.Goals.GetStatus())
}

func (h *handlers) recentDecisions(c *gin.Context) {
	if h.deps.Audit == nil {
		notWired(c, "decision audit log")
		return
	}
	limit := queryInt(c, "limit", 50)
	entries, err := h.deps.Audit.ReadEntries("", c.Query("session_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": entries})
}

func (h *handlers) decisionStats(c *gin.Context) {
	if h.deps.Audit == nil {
		notWired(c, "decision audit log")
		return
	}
	stats, err := h.deps.Audit.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) activeBlueprint(c *gin.Context) {
	if h.deps.Blueprints == nil {
		notWired(c, "blueprint manager")
		return
	}
	bp, ok, err := h.deps.Blueprints.GetActive(c.Param("session"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active blueprint for session"})
		return
	}
	c.JSON(http.StatusOK, bp)
}

func (h *handlers) activeBlueprintHTML(c *gin.Context) {
	if h.deps.Blueprints == nil {
		notWired(c, "blueprint manager")
		return
	}
	bp, ok, err := h.deps.Blueprints.GetActive(c.Param("session"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active blueprint for session"})
		return
	}
	html, err := blueprint.RenderHTML(bp.ToMarkdown())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *handlers) recentBlueprints(c *gin.Context) {
	if h.deps.Blueprints == nil {
		notWired(c, "blueprint manager")
		return
	}
	limit := queryInt(c, "limit", 20)
	list, err := h.deps.Blueprints.ListRecent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blueprints": list})
}

func (h *handlers) eventMetrics(c *gin.Context) {
	if h.deps.Events == nil {
		notWired(c, "event bus")
		return
	}
	c.JSON(http.StatusOK, h.deps.Events.Metrics())
}

func (h *handlers) eventDLQ(c *gin.Context) {
	if h.deps.Events == nil {
		notWired(c, "event bus")
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": h.deps.Events.DLQ()})
}

func (h *handlers) listArtifacts(c *gin.Context) {
	if h.deps.Artifacts == nil {
		notWired(c, "artifact store")
		return
	}
	filter := artifact.ListFilter{
		SessionID: c.Query("session_id"),
		ToolName:  c.Query("tool_name"),
	}
	list, err := h.deps.Artifacts.ListArtifacts(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": list})
}

func (h *handlers) artifactStats(c *gin.Context) {
	if h.deps.Artifacts == nil {
		notWired(c, "artifact store")
		return
	}
	stats, err := h.deps.Artifacts.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) listSnapshots(c *gin.Context) {
	if h.deps.Snapshots == nil {
		notWired(c, "snapshot registry")
		return
	}
	mgr, err := h.deps.Snapshots.Get(c.Query("workspace"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	limit := queryInt(c, "limit", 20)
	c.JSON(http.StatusOK, gin.H{"snapshots": mgr.ListSnapshots(limit)})
}

func (h *handlers) poolStats(c *gin.Context) {
	if h.deps.Pool == nil {
		notWired(c, "agent pool")
		return
	}
	c.JSON(http.StatusOK, h.deps.Pool.Stats())
}

func (h *handlers) cacheStats(c *gin.Context) {
	if h.deps.Cache == nil {
		notWired(c, "tool result cache")
		return
	}
	c.JSON(http.StatusOK, h.deps.Cache.Stats())
}

func (h *handlers) compactionStatus(c *gin.Context) {
	if h.deps.Compaction == nil {
		notWired(c, "compaction pipeline")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": h.deps.Compaction.StageNames()})
}

func (h *handlers) runState(c *gin.Context) {
	if h.deps.Orchestrator == nil {
		notWired(c, "orchestrator")
		return
	}
	c.JSON(http.StatusOK, h.deps.Orchestrator.RunState())
}

func (h *handlers) sessionActions(c *gin.Context) {
	if h.deps.Revert == nil {
		notWired(c, "revert controller")
		return
	}
	limit := queryInt(c, "limit", 20)
	c.JSON(http.StatusOK, gin.H{
		"actions":      h.deps.Revert.ListActions(c.Param("session"), limit),
		"can_undo":     h.deps.Revert.CanUndo(c.Param("session")),
		"can_unrevert": h.deps.Revert.CanUnrevert(c.Param("session")),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
