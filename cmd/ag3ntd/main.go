package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/artifact"
	"github.com/ag3nt-run/ag3nt/internal/domain/blueprint"
	"github.com/ag3nt-run/ag3nt/internal/domain/compaction"
	"github.com/ag3nt-run/ag3nt/internal/domain/decision"
	"github.com/ag3nt-run/ag3nt/internal/domain/execapproval"
	"github.com/ag3nt-run/ag3nt/internal/domain/freshness"
	"github.com/ag3nt-run/ag3nt/internal/domain/goal"
	"github.com/ag3nt-run/ag3nt/internal/domain/learning"
	"github.com/ag3nt-run/ag3nt/internal/domain/orchestrator"
	"github.com/ag3nt-run/ag3nt/internal/domain/policy"
	"github.com/ag3nt-run/ag3nt/internal/domain/pool"
	"github.com/ag3nt-run/ag3nt/internal/domain/revert"
	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
	"github.com/ag3nt-run/ag3nt/internal/domain/toolcache"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/config"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/eventbus"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/httpapi"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/logger"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/monitoring"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/sandbox"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/watcher"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/wsstream"
	"github.com/ag3nt-run/ag3nt/pkg/safego"
)

const (
	appName    = "ag3ntd"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := config.Bootstrap(log); err != nil {
		log.Fatal("failed to bootstrap runtime home", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Log.Level != "" {
		if l, lerr := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout"}); lerr == nil {
			log = l
		}
	}

	log.Info("starting runtime", zap.String("name", appName), zap.String("version", appVersion))

	rt, err := build(cfg, log)
	if err != nil {
		log.Fatal("failed to build runtime", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		log.Fatal("failed to start runtime", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := rt.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
	log.Info("runtime stopped cleanly")
}

// sandboxBuilder is the pool.Builder that amortizes sandbox.New's cold-start
// setup cost (MkdirAll for WorkDir and TempDir) across the warm agent pool.
type sandboxBuilder struct {
	cfg *sandbox.Config
	log *zap.Logger
}

func (b *sandboxBuilder) Build(ctx context.Context) (interface{}, error) {
	return sandbox.New(b.cfg, b.log)
}

// runtime holds every wired collaborator plus the HTTP status server and
// the WebSocket hub it serves, so main can Start/Stop the whole composition with one call each.
type runtime struct {
	log          *zap.Logger
	bus          *eventbus.Bus
	httpServer   *httpapi.Server
	hub          *wsstream.Hub
	orchestrator *orchestrator.Orchestrator
	watcher      *watcher.Watcher
	goals        *goal.Manager
	pool         *pool.Pool
}

func build(cfg *config.Config, log *zap.Logger) (*runtime, error) {
	db, err := persistence.NewDBConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	learningStore := learning.NewStore(db, log)
	goals := goal.NewPersistentManager(log, db)
	if err := goals.LoadGoals(cfg.Goal.Dir); err != nil {
		log.Warn("loading goal directory", zap.String("dir", cfg.Goal.Dir), zap.Error(err))
	}

	decisionEngine := decision.NewEngine(learningStore, decision.Config{
		MinSamplesRequired:    cfg.Decision.MinSamplesRequired,
		RejectThreshold:       cfg.Decision.RejectThreshold,
		EscalateAfterFailures: cfg.Decision.EscalateAfterFailures,
	}, log)

	sandboxCfg := sandbox.DefaultConfig()
	if cfg.Sandbox.WorkDir != "" {
		sandboxCfg.WorkDir = cfg.Sandbox.WorkDir
	}
	if cfg.Sandbox.Timeout > 0 {
		sandboxCfg.Timeout = cfg.Sandbox.Timeout
	}
	if len(cfg.Sandbox.AllowedBins) > 0 {
		sandboxCfg.AllowedBins = cfg.Sandbox.AllowedBins
	}
	if cfg.Sandbox.MemoryLimit > 0 {
		sandboxCfg.MemoryLimit = cfg.Sandbox.MemoryLimit
	}
	sandboxCfg.EnableNetwork = cfg.Sandbox.EnableNetwork
	if cfg.Sandbox.TempDir != "" {
		sandboxCfg.TempDir = cfg.Sandbox.TempDir
	}
	sandboxCfg.PythonEnv = cfg.Sandbox.PythonEnv
	sb, err := sandbox.New(sandboxCfg, log)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	approver := execapproval.NewEvaluator()
	if cfg.Policy.ApprovalMode != "" {
		approver.SetAskMode(execapproval.AskMode(cfg.Policy.ApprovalMode))
	}
	if err := approver.LoadPolicy(execapproval.DefaultPolicyPath()); err != nil {
		log.Warn("loading exec policy", zap.Error(err))
	}
	sb.SetPreExecHook(func(command string, args []string, workDir string) error {
		return nil
	})

	audit, err := policy.NewAuditLogger(cfg.Policy.AuditLogPath, cfg.Policy.AuditEnabled, log)
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}

	var busOpts eventbus.Config
	busOpts.MaxRetries = cfg.EventBus.MaxRetries
	busOpts.BackoffBase = cfg.EventBus.BackoffBase
	busOpts.DedupWindow = cfg.EventBus.DedupWindow
	busOpts.MaxDLQSize = cfg.EventBus.MaxDLQSize
	busOpts.DrainOnClose = cfg.EventBus.DrainOnClose
	bus := eventbus.NewBusWithDLQStore(log, busOpts, db)

	orch := orchestrator.New(goals, decisionEngine, approver, sb, audit, learningStore, bus, log)

	freshnessTracker := freshness.NewTracker(log)
	var fileWatcher *watcher.Watcher
	if cfg.Freshness.Enabled {
		fileWatcher, err = watcher.New(freshnessTracker, log)
		if err != nil {
			return nil, fmt.Errorf("build file watcher: %w", err)
		}
	}

	snapshots := snapshot.NewRegistry(log)
	revertCtl := revert.NewController(snapshots, log)

	artifactsDir := cfg.Artifact.Dir
	if artifactsDir == "" {
		artifactsDir = artifact.DefaultArtifactsDir()
	}
	artifactStore := artifact.NewStore(artifactsDir, cfg.Artifact.MaxAgeDays, cfg.Artifact.MaxSizeBytes, log)

	blueprintDir := blueprint.DefaultBlueprintsDir()
	blueprintStore := blueprint.NewStore(blueprintDir, log)
	blueprints := blueprint.NewManager(blueprintStore, log)

	agentPool := pool.New(&sandboxBuilder{cfg: sandboxCfg, log: log}, pool.Config{
		MinWarm:         cfg.Pool.MinWarm,
		MaxSize:         cfg.Pool.MaxSize,
		MaxIdleTime:     cfg.Pool.MaxIdleTime,
		MaxAge:          cfg.Pool.MaxAge,
		MaxTurns:        cfg.Pool.MaxTurns,
		WarmupThreshold: cfg.Pool.WarmupThreshold,
	}, log)

	toolCache := toolcache.New(cfg.ToolCache.TTL, cfg.ToolCache.MaxCount, cfg.ToolCache.MaxBytes)

	memoryFlushDir := filepath.Join(config.HomeDir(), "memory")
	compactionPipeline := compaction.NewPipeline(
		compaction.NewCharTokenizer(),
		artifactStore,
		compaction.NewMemoryFlusher(memoryFlushDir),
		compaction.TruncationSummarizer{},
		log,
	)

	toolPolicy := policy.NewManager("")
	pathProtection := policy.New()
	pathProtection.SetWorkspaceRoot(sandboxCfg.WorkDir)

	monitor := monitoring.NewMonitor()

	orch.SetGovernance(orchestrator.Governance{
		ToolPolicy:     toolPolicy,
		PathProtection: pathProtection,
		Cache:          toolCache,
		Snapshots:      snapshots,
		Revert:         revertCtl,
		Pool:           agentPool,
		Monitor:        monitor,
		WorkspacePath:  sandboxCfg.WorkDir,
	})

	hub := wsstream.NewHub(bus, log)
	wsHandler := wsstream.NewHandler(hub, log)

	httpServer := httpapi.NewServer(httpapi.Config{
		Host: cfg.HTTP.Host,
		Port: cfg.HTTP.Port,
		Mode: cfg.HTTP.Mode,
	}, httpapi.Dependencies{
		Goals:        goals,
		Audit:        audit,
		Blueprints:   blueprints,
		Events:       bus,
		Artifacts:    artifactStore,
		Pool:         agentPool,
		Cache:        toolCache,
		Compaction:   compactionPipeline,
		Snapshots:    snapshots,
		Revert:       revertCtl,
		Monitor:      monitor,
		Orchestrator: orch,
		WS:           wsHandler,
	}, log)

	return &runtime{
		log:          log,
		bus:          bus,
		httpServer:   httpServer,
		hub:          hub,
		orchestrator: orch,
		watcher:      fileWatcher,
		goals:        goals,
		pool:         agentPool,
	}, nil
}

func (r *runtime) Start(ctx context.Context) error {
	r.bus.Start(ctx)
	r.orchestrator.Start()

	if err := r.pool.Start(ctx); err != nil {
		return fmt.Errorf("start agent pool: %w", err)
	}

	if r.watcher != nil {
		if err := r.watcher.Start(); err != nil {
			return fmt.Errorf("start file watcher: %w", err)
		}
	}

	safego.Go(r.log, "wsstream-hub", func() { r.hub.Run(ctx) })

	if err := r.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	return nil
}

func (r *runtime) Stop(ctx context.Context) error {
	if err := r.httpServer.Stop(ctx); err != nil {
		r.log.Error("stopping http server", zap.Error(err))
	}
	if r.watcher != nil {
		r.watcher.Stop()
	}
	r.pool.Stop()
	r.bus.Stop()
	return nil
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  %s           Start the runtime daemon (default)
  %s version   Show version
  %s help      Show this help

Environment:
  AG3NT_*      Configuration overrides (see ~/.ag3nt/config.yaml)
`, appName, appVersion, appName, appName, appName)
}
