// Package orchestrator closes the loop design notes call out: the event
// bus never calls the decision engine directly, and the engine never calls
// the bus directly either. Orchestrator is the one component that does
// both — it subscribes to the bus, asks the goal manager which goals
// match, asks the decision engine what to do about each match, and for an
// ACT verdict runs the goal's action through exec approval and the
// sandbox, recording the outcome and publishing it back onto the bus as a
// new event rather than looping back into the engine directly.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/decision"
	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/domain/execapproval"
	"github.com/ag3nt-run/ag3nt/internal/domain/goal"
	"github.com/ag3nt-run/ag3nt/internal/domain/learning"
	"github.com/ag3nt-run/ag3nt/internal/domain/policy"
	"github.com/ag3nt-run/ag3nt/internal/domain/pool"
	"github.com/ag3nt-run/ag3nt/internal/domain/revert"
	"github.com/ag3nt-run/ag3nt/internal/domain/service"
	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
	"github.com/ag3nt-run/ag3nt/internal/domain/toolcache"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/eventbus"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/monitoring"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/sandbox"
)

// outcomeEventType is published after every attempted goal execution,
// carrying the decision and result. It deliberately doesn't match any
// goal's trigger.event_type by convention, so goal definitions must avoid
// this prefix to prevent feedback loops.
const outcomeEventType = "goal.outcome"

// Governance bundles the optional tool-policy/path-protection/cache/
// snapshot/revert collaborators an Orchestrator consults around every goal
// action — the "policy filters check permissibility; for mutating tools the
// snapshot engine captures state and the revert controller records the
// action; deterministic read tools consult the cache" flow. Any field left
// nil disables that part of the flow rather than erroring.
type Governance struct {
	ToolPolicy     *policy.Manager
	PathProtection *policy.PathProtection
	Cache          *toolcache.Cache
	Snapshots      *snapshot.Registry
	Revert         *revert.Controller
	Pool           *pool.Pool // warm sandbox instances; falls back to the fixed sandbox when nil
	Monitor        *monitoring.Monitor
	WorkspacePath  string
}

// Orchestrator wires the goal manager and decision engine to the event
// bus and carries out ACT verdicts against the sandbox.
type Orchestrator struct {
	goals      *goal.Manager
	engine     *decision.Engine
	approver   *execapproval.Evaluator
	sandbox    *sandbox.ProcessSandbox
	audit      *policy.AuditLogger
	learning   *learning.Store
	bus        *eventbus.Bus
	logger     *zap.Logger
	commandOf  func(action entity.Action) (string, error)
	governance Governance
	runState   *service.StateMachine
}

// New builds an Orchestrator. approver, sandboxRunner, audit, and
// learningStore may be nil: a nil approver skips the defense-in-depth
// check, a nil sandbox makes every ACT verdict a no-op logged warning,
// a nil audit/learning store simply skips that bookkeeping.
func New(goals *goal.Manager, engine *decision.Engine, approver *execapproval.Evaluator, sandboxRunner *sandbox.ProcessSandbox, audit *policy.AuditLogger, learningStore *learning.Store, bus *eventbus.Bus, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		goals:     goals,
		engine:    engine,
		approver:  approver,
		sandbox:   sandboxRunner,
		audit:     audit,
		learning:  learningStore,
		bus:       bus,
		logger:    logger.With(zap.String("component", "orchestrator")),
		commandOf: defaultCommandOf,
		runState:  service.NewStateMachine(0, logger),
	}
}

// RunState reports the most recent goal-action run's lifecycle state, for
// the status HTTP surface.
func (o *Orchestrator) RunState() service.StateSnapshot {
	return o.runState.Snapshot()
}

// SetGovernance wires the tool-policy/path-protection/cache/snapshot/revert
// collaborators. Nil fields leave the corresponding check disabled — by
// default an Orchestrator built via New runs with none of this governance
// layer active, matching its existing exec-approval-only behavior.
func (o *Orchestrator) SetGovernance(g Governance) {
	o.governance = g
}

// Start subscribes the orchestrator to every event type on the bus.
func (o *Orchestrator) Start() {
	if o.bus == nil {
		return
	}
	o.bus.Subscribe("*", o.handleEvent)
}

func (o *Orchestrator) handleEvent(ctx context.Context, event *entity.Event) error {
	if event == nil || event.Type == outcomeEventType {
		return nil
	}

	matches := o.goals.FindMatchingGoals(event)
	for _, g := range matches {
		o.evaluateAndAct(ctx, g, event)
	}
	return nil
}

func (o *Orchestrator) evaluateAndAct(ctx context.Context, g *entity.Goal, event *entity.Event) {
	if o.runState.IsTerminal() {
		_ = o.runState.Transition(service.StateIdle)
	}
	if err := o.runState.Transition(service.StateEvaluating); err != nil {
		o.logger.Debug("run state transition", zap.Error(err))
	}

	d, err := o.engine.Evaluate(ctx, g, event)
	if err != nil {
		o.logger.Error("decision evaluation failed", zap.String("goal_id", g.ID), zap.Error(err))
		o.runState.RecordError()
		_ = o.runState.Transition(service.StateError)
		return
	}

	o.logger.Info("goal evaluated",
		zap.String("goal_id", g.ID),
		zap.String("decision", string(d.Type)),
		zap.String("reason", d.Reason),
	)

	if !d.ShouldExecute() {
		_ = o.runState.Transition(service.StateComplete)
		o.publishOutcome(g, d, false, "", nil)
		return
	}

	_ = o.runState.Transition(service.StateToolExec)
	started := time.Now()
	output, execErr := o.execute(ctx, g)
	duration := time.Since(started)
	success := execErr == nil
	o.governance.Monitor.RecordGoalExecution(g.ID, success, duration)

	if success {
		o.runState.RecordToolExec(g.Action.Tool)
		_ = o.runState.Transition(service.StateComplete)
	} else {
		o.runState.RecordError()
		_ = o.runState.Transition(service.StateError)
	}

	if o.learning != nil {
		errMsg := ""
		if execErr != nil {
			errMsg = execErr.Error()
		}
		if _, err := o.learning.RecordAction(ctx, g.Action.Tool, g.ID, output, success, duration.Milliseconds(), errMsg); err != nil {
			o.logger.Warn("record action outcome", zap.String("goal_id", g.ID), zap.Error(err))
		}
	}

	o.goals.RecordExecution(g.ID)
	o.publishOutcome(g, d, success, output, execErr)
}

// execute runs the goal's action through tool-policy filtering, exec
// approval, and the sandbox — snapshotting the workspace and recording a
// revert point around mutating tools, and consulting the result cache for
// deterministic read tools, per the governance wired in via SetGovernance.
func (o *Orchestrator) execute(ctx context.Context, g *entity.Goal) (string, error) {
	tool := g.Action.Tool

	if o.governance.ToolPolicy != nil {
		policyResult, err := o.governance.ToolPolicy.LoadPolicy()
		if err != nil {
			o.logger.Warn("loading tool policy", zap.Error(err))
		} else if !policyResult.IsToolAllowed(tool) {
			return "", fmt.Errorf("tool %q is denied by the active tool policy", tool)
		}
	}

	if o.governance.Cache != nil && toolcache.IsCacheable(tool) {
		if cached, hit := o.governance.Cache.Get(tool, g.Action.Args); hit {
			o.logger.Debug("goal action served from tool cache", zap.String("goal_id", g.ID), zap.String("tool", tool))
			return cached.Output, nil
		}
	}

	command, err := o.commandOf(g.Action)
	if err != nil {
		return "", err
	}

	if o.approver != nil {
		result := o.approver.Evaluate(command)
		if result.Decision == execapproval.DecisionDeny {
			o.recordAudit(g, command, false, result.Reason)
			return "", fmt.Errorf("blocked by exec policy: %s (%s)", result.Reason, result.MatchedRule)
		}
		if result.Decision == execapproval.DecisionAsk {
			o.recordAudit(g, command, false, "requires manual approval: "+result.Reason)
			return "", fmt.Errorf("goal action requires manual approval: %s", result.Reason)
		}
	}

	runner, checkin, err := o.acquireSandbox(ctx)
	if err != nil {
		return "", err
	}
	if runner == nil {
		o.logger.Warn("no sandbox configured, skipping goal action", zap.String("goal_id", g.ID))
		return "", fmt.Errorf("no sandbox configured")
	}
	defer checkin()

	mutating := policy.IsWriteOperation(tool)
	if mutating && o.governance.PathProtection != nil {
		if path, ok := g.Action.Args["path"].(string); ok && path != "" {
			if allowed, reason := o.governance.PathProtection.CheckPath(path, "goal:"+g.ID, tool); !allowed {
				o.recordAudit(g, command, false, reason)
				return "", fmt.Errorf("blocked by path protection: %s", reason)
			}
		}
	}
	snapshotBefore := o.snapshotBefore(ctx, g, mutating)

	res, err := runner.Execute(ctx, "bash", []string{"-c", command})
	o.recordAudit(g, command, err == nil, "")
	o.governance.Monitor.RecordToolCall(tool, err)
	if err != nil {
		return "", err
	}

	if mutating && snapshotBefore != "" && o.governance.Revert != nil {
		o.governance.Revert.RecordAction("goal:"+g.ID, uuid.New().String(), nil, snapshotBefore, tool, g.Name)
	}

	if o.governance.Cache != nil && toolcache.IsCacheable(tool) {
		o.governance.Cache.Put(tool, g.Action.Args, res.Stdout, true)
	}

	return res.Stdout, nil
}

// acquireSandbox returns a sandbox runner for this action along with a
// checkin callback the caller must defer. When a warm pool is wired in via
// Governance, it checks out a warm instance (amortizing the cold-start cost
// of sandbox.New's directory setup) and checks it back in or discards it on
// failure; otherwise it falls back to the fixed sandbox passed to New.
func (o *Orchestrator) acquireSandbox(ctx context.Context) (*sandbox.ProcessSandbox, func(), error) {
	if o.governance.Pool == nil {
		return o.sandbox, func() {}, nil
	}

	inst, err := o.governance.Pool.Checkout(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("checkout sandbox from warm pool: %w", err)
	}
	runner, ok := inst.Build.(*sandbox.ProcessSandbox)
	if !ok {
		o.governance.Pool.Discard(inst)
		return nil, nil, fmt.Errorf("warm pool instance did not build a *sandbox.ProcessSandbox")
	}
	return runner, func() {
		inst.TurnsExecuted++
		o.governance.Pool.Checkin(inst)
		stats := o.governance.Pool.Stats()
		o.governance.Monitor.SetPoolGauges(stats.Warm, stats.CheckedOut)
	}, nil
}

// snapshotBefore takes a pre-action workspace snapshot for mutating tools
// when a snapshot registry and workspace path are configured. Failures are
// logged and treated as "no snapshot available" rather than blocking the
// action — the snapshot engine is a safety net, not a gate.
func (o *Orchestrator) snapshotBefore(ctx context.Context, g *entity.Goal, mutating bool) string {
	if !mutating || o.governance.Snapshots == nil || o.governance.WorkspacePath == "" {
		return ""
	}
	mgr, err := o.governance.Snapshots.Get(o.governance.WorkspacePath)
	if err != nil {
		o.logger.Warn("opening snapshot manager for goal action", zap.String("goal_id", g.ID), zap.Error(err))
		return ""
	}
	hash, err := mgr.TakeSnapshot(ctx, "pre:"+g.ID, nil)
	if err != nil {
		o.logger.Warn("taking pre-action snapshot", zap.String("goal_id", g.ID), zap.Error(err))
		return ""
	}
	return hash
}

func (o *Orchestrator) recordAudit(g *entity.Goal, command string, success bool, blockReason string) {
	if o.audit == nil {
		return
	}
	opts := []policy.AuditOption{policy.WithSessionID("goal:" + g.ID)}
	if blockReason != "" {
		opts = append(opts, policy.WithBlocked(blockReason))
	}
	if !success && blockReason == "" {
		opts = append(opts, policy.WithFailure(fmt.Errorf("goal action failed")))
	}
	o.audit.LogShellOperation(command, opts...)
}

func (o *Orchestrator) publishOutcome(g *entity.Goal, d entity.Decision, success bool, output string, execErr error) {
	if o.bus == nil {
		return
	}
	payload := map[string]interface{}{
		"goal_id":  g.ID,
		"decision": string(d.Type),
		"reason":   d.Reason,
		"acted":    d.ShouldExecute(),
		"success":  success,
	}
	if execErr != nil {
		payload["error"] = execErr.Error()
	}
	if output != "" {
		payload["output"] = output
	}

	ev := &entity.Event{
		ID:        uuid.New().String(),
		Type:      outcomeEventType,
		Source:    "orchestrator",
		Payload:   payload,
		Priority:  entity.PriorityMedium,
		Timestamp: time.Now(),
	}
	if _, err := o.bus.Publish(ev); err != nil {
		o.logger.Warn("publish goal outcome", zap.String("goal_id", g.ID), zap.Error(err))
	}
}

// defaultCommandOf resolves a goal's action into a shell command. Only the
// "shell", "exec_command" and "bash" tools are directly executable by the
// orchestrator; any other tool name is rejected since it has no sandboxed
// collaborator wired here.
func defaultCommandOf(action entity.Action) (string, error) {
	switch strings.ToLower(action.Tool) {
	case "shell", "exec_command", "bash":
	default:
		return "", fmt.Errorf("orchestrator cannot execute tool %q directly", action.Tool)
	}
	cmd, ok := action.Args["command"].(string)
	if !ok || cmd == "" {
		return "", fmt.Errorf("action missing string \"command\" argument")
	}
	return cmd, nil
}
