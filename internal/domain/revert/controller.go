// Package revert implements per-session undo/redo over the snapshot
// package: it tracks the sequence of file-modifying tool calls in a
// session and maps "undo", "revert to an earlier point", and "unrevert"
// onto restoring the right snapshot tree.
package revert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/snapshot"
)

// ActionRecord is a single file-modifying action within a session.
type ActionRecord struct {
	ToolCallID      string
	SnapshotBefore  string // tree hash of the workspace before this action
	Timestamp       time.Time
	Files           []string
	ToolName        string
	Label           string
}

// Result reports the outcome of an undo/revert/unrevert operation.
type Result struct {
	Success      bool
	Message      string
	FilesChanged []string
	SnapshotHash string
}

// state is the per-session revert bookkeeping.
type state struct {
	actions            []ActionRecord
	undoStack          []string // snapshot hashes taken before each undo, for unrevert
	lastRevertSnapshot string
}

// Controller manages undo/revert/unrevert across sessions, coordinating
// with a snapshot.Registry to take and restore the underlying git trees.
type Controller struct {
	snapshots *snapshot.Registry
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*state
}

// NewController builds a Controller backed by snapshots.
func NewController(snapshots *snapshot.Registry, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{snapshots: snapshots, logger: logger, sessions: make(map[string]*state)}
}

func (c *Controller) getState(sessionID string) *state {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		s = &state{}
		c.sessions[sessionID] = s
	}
	return s
}

// RecordAction records a file-modifying action. Call this after taking a
// pre-modification snapshot but before applying the change; snapshotBefore
// is the tree hash returned by that snapshot. New actions invalidate any
// pending unrevert, since the undo stack no longer reflects a consistent
// future.
func (c *Controller) RecordAction(sessionID, toolCallID string, files []string, snapshotBefore, toolName, label string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		s = &state{}
		c.sessions[sessionID] = s
	}
	c.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	s.actions = append(s.actions, ActionRecord{
		ToolCallID:     toolCallID,
		SnapshotBefore: snapshotBefore,
		Timestamp:      time.Now(),
		Files:          files,
		ToolName:       toolName,
		Label:          label,
	})
	s.undoStack = nil
	s.lastRevertSnapshot = ""

	c.logger.Debug("recorded action",
		zap.String("session_id", sessionID), zap.String("tool_call_id", toolCallID), zap.String("tool", toolName))
}

// UndoLast restores the workspace to the state before the most recently
// recorded action, pushing the current state onto the undo stack first so
// Unrevert can re-apply it.
func (c *Controller) UndoLast(ctx context.Context, sessionID, workspacePath string) Result {
	s := c.getState(sessionID)

	c.mu.Lock()
	if len(s.actions) == 0 {
		c.mu.Unlock()
		return Result{Success: false, Message: "nothing to undo — no file-modifying actions recorded in this session"}
	}
	last := s.actions[len(s.actions)-1]
	c.mu.Unlock()

	mgr, err := c.snapshots.Get(workspacePath)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("undo failed: %v", err)}
	}

	current, err := mgr.TakeSnapshot(ctx, fmt.Sprintf("before undo of %s (%s)", last.ToolName, last.ToolCallID), nil)
	if err != nil {
		c.logger.Error("undo failed", zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("undo failed: %v", err)}
	}

	changed, err := mgr.Restore(ctx, last.SnapshotBefore)
	if err != nil {
		c.logger.Error("undo failed", zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("undo failed: %v", err)}
	}

	c.mu.Lock()
	s.undoStack = append(s.undoStack, current)
	s.lastRevertSnapshot = current
	s.actions = s.actions[:len(s.actions)-1]
	c.mu.Unlock()

	toolName := last.ToolName
	if toolName == "" {
		toolName = "action"
	}
	return Result{
		Success:      true,
		Message:      fmt.Sprintf("undone: %s (tool call %s). %d file(s) restored.", toolName, last.ToolCallID, len(changed)),
		FilesChanged: changed,
		SnapshotHash: last.SnapshotBefore,
	}
}

// RevertTo undoes every action recorded after (and including) toolCallID,
// restoring the workspace to its state immediately before that tool call.
func (c *Controller) RevertTo(ctx context.Context, sessionID, toolCallID, workspacePath string) Result {
	s := c.getState(sessionID)

	c.mu.Lock()
	targetIdx := -1
	for i, a := range s.actions {
		if a.ToolCallID == toolCallID {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		c.mu.Unlock()
		return Result{Success: false, Message: fmt.Sprintf("tool call %q not found in session history", toolCallID)}
	}
	target := s.actions[targetIdx]
	actionsToUndo := len(s.actions) - targetIdx
	c.mu.Unlock()

	mgr, err := c.snapshots.Get(workspacePath)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("revert failed: %v", err)}
	}

	current, err := mgr.TakeSnapshot(ctx, fmt.Sprintf("before revert to %s", toolCallID), nil)
	if err != nil {
		c.logger.Error("revert failed", zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("revert failed: %v", err)}
	}

	changed, err := mgr.Restore(ctx, target.SnapshotBefore)
	if err != nil {
		c.logger.Error("revert failed", zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("revert failed: %v", err)}
	}

	c.mu.Lock()
	s.undoStack = append(s.undoStack, current)
	s.lastRevertSnapshot = current
	s.actions = s.actions[:targetIdx]
	c.mu.Unlock()

	toolName := target.ToolName
	if toolName == "" {
		toolName = "action"
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("reverted %d action(s) back to before %s (tool call %s). %d file(s) restored.",
			actionsToUndo, toolName, toolCallID, len(changed)),
		FilesChanged: changed,
		SnapshotHash: target.SnapshotBefore,
	}
}

// Unrevert re-applies the most recently undone/reverted changes by
// restoring the snapshot taken just before that undo/revert.
func (c *Controller) Unrevert(ctx context.Context, sessionID, workspacePath string) Result {
	s := c.getState(sessionID)

	c.mu.Lock()
	if len(s.undoStack) == 0 {
		c.mu.Unlock()
		return Result{Success: false, Message: "nothing to unrevert — no previous undo/revert in this session"}
	}
	restoreHash := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	c.mu.Unlock()

	mgr, err := c.snapshots.Get(workspacePath)
	if err != nil {
		c.mu.Lock()
		s.undoStack = append(s.undoStack, restoreHash)
		c.mu.Unlock()
		return Result{Success: false, Message: fmt.Sprintf("unrevert failed: %v", err)}
	}

	changed, err := mgr.Restore(ctx, restoreHash)
	if err != nil {
		c.logger.Error("unrevert failed", zap.Error(err))
		c.mu.Lock()
		s.undoStack = append(s.undoStack, restoreHash)
		c.mu.Unlock()
		return Result{Success: false, Message: fmt.Sprintf("unrevert failed: %v", err)}
	}

	c.mu.Lock()
	s.lastRevertSnapshot = ""
	c.mu.Unlock()

	return Result{
		Success:      true,
		Message:      fmt.Sprintf("unrevert complete. %d file(s) restored to post-change state.", len(changed)),
		FilesChanged: changed,
		SnapshotHash: restoreHash,
	}
}

// ActionSummary is the list-facing view of an ActionRecord.
type ActionSummary struct {
	ToolCallID string
	ToolName   string
	Files      []string
	Timestamp  time.Time
	Label      string
	Snapshot   string // truncated to 12 chars, matching git's short-hash convention
}

// ListActions returns up to n recent actions for a session, most recent first.
func (c *Controller) ListActions(sessionID string, n int) []ActionSummary {
	s := c.getState(sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if len(s.actions) > n {
		start = len(s.actions) - n
	}
	out := make([]ActionSummary, 0, len(s.actions)-start)
	for i := len(s.actions) - 1; i >= start; i-- {
		a := s.actions[i]
		short := a.SnapshotBefore
		if len(short) > 12 {
			short = short[:12]
		}
		out = append(out, ActionSummary{
			ToolCallID: a.ToolCallID,
			ToolName:   a.ToolName,
			Files:      a.Files,
			Timestamp:  a.Timestamp,
			Label:      a.Label,
			Snapshot:   short,
		})
	}
	return out
}

// CanUndo reports whether there is at least one recorded action to undo.
func (c *Controller) CanUndo(sessionID string) bool {
	s := c.getState(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(s.actions) > 0
}

// CanUnrevert reports whether a previous undo/revert can be re-applied.
func (c *Controller) CanUnrevert(sessionID string) bool {
	s := c.getState(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(s.undoStack) > 0
}

// ClearSession discards all revert state for a session.
func (c *Controller) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	c.logger.Debug("cleared revert state", zap.String("session_id", sessionID))
}
