// Package snapshot implements workspace undo/redo via a shadow git
// repository kept entirely separate from any git repo the workspace itself
// may already have. Snapshots are git tree objects captured with plumbing
// commands (add, write-tree, read-tree, checkout-index) plus a commit in the
// shadow repository only, so taking one never touches the workspace's own
// repository or the user's branch state.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	pruneAge     = 7 * 24 * time.Hour
	maxSnapshots = 500
	gitTimeout   = 30 * time.Second
)

// Info is the metadata recorded for a single snapshot.
type Info struct {
	TreeHash     string
	Timestamp    time.Time
	Label        string
	FilesChanged []string
}

// Manager manages workspace snapshots backed by a shadow git repository at
// <snapshotsRoot>/<sha256(workspacePath)[:16]>/.
type Manager struct {
	workspacePath string
	shadowRepo    string
	logger        *zap.Logger

	mu          sync.Mutex
	snapshots   []Info
	initialized bool
}

// DefaultSnapshotsRoot returns ~/.ag3nt/snapshots.
func DefaultSnapshotsRoot() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ag3nt", "snapshots")
}

// New builds a Manager for workspacePath. snapshotsRoot overrides the
// default base directory when non-empty.
func New(workspacePath, snapshotsRoot string, logger *zap.Logger) (*Manager, error) {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace path does not exist: %s", abs)
	}
	if snapshotsRoot == "" {
		snapshotsRoot = DefaultSnapshotsRoot()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sum := sha256.Sum256([]byte(abs))
	hash := hex.EncodeToString(sum[:])[:16]

	return &Manager{
		workspacePath: abs,
		shadowRepo:    filepath.Join(snapshotsRoot, hash),
		logger:        logger,
	}, nil
}

func (m *Manager) ensureInitialized(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	if err := os.MkdirAll(m.shadowRepo, 0o755); err != nil {
		return fmt.Errorf("create shadow repo dir: %w", err)
	}
	gitDir := filepath.Join(m.shadowRepo, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		if _, err := m.runGit(ctx, nil, []string{"init"}, ""); err != nil {
			return err
		}
		if _, err := m.runGit(ctx, nil, []string{"config", "user.email", "snapshots@ag3nt.dev"}, ""); err != nil {
			return err
		}
		if _, err := m.runGit(ctx, nil, []string{"config", "user.name", "AG3NT Snapshots"}, ""); err != nil {
			return err
		}
		if _, err := m.runGit(ctx, nil, []string{"commit", "--allow-empty", "-m", "snapshot repo initialized"}, ""); err != nil {
			return err
		}
		m.logger.Info("initialized shadow snapshot repo", zap.String("path", m.shadowRepo))
	}
	m.initialized = true
	return nil
}

// runGit executes git with GIT_DIR/GIT_WORK_TREE pointed at the shadow repo
// and the real workspace respectively, so plumbing commands operate on the
// shadow index while reading/writing the workspace's actual files.
func (m *Manager) runGit(ctx context.Context, extraEnv map[string]string, args []string, stdinData string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = m.workspacePath
	cmd.Env = append(os.Environ(),
		"GIT_DIR="+filepath.Join(m.shadowRepo, ".git"),
		"GIT_WORK_TREE="+m.workspacePath,
	)
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if stdinData != "" {
		cmd.Stdin = strings.NewReader(stdinData)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// TakeSnapshot captures the current workspace state as a git tree object
// and returns its hash. label and files are stored as metadata context; an
// empty-allowed commit is also created so the shadow repo stays GC-friendly.
func (m *Manager) TakeSnapshot(ctx context.Context, label string, files []string) (string, error) {
	if err := m.ensureInitialized(ctx); err != nil {
		return "", err
	}

	if _, err := m.runGit(ctx, nil, []string{"add", "-A", "--force"}, ""); err != nil {
		return "", fmt.Errorf("snapshot failed: %w", err)
	}
	out, err := m.runGit(ctx, nil, []string{"write-tree"}, "")
	if err != nil {
		return "", fmt.Errorf("snapshot failed: %w", err)
	}
	treeHash := strings.TrimSpace(out)
	if treeHash == "" {
		return "", fmt.Errorf("git write-tree returned empty hash")
	}

	msg := label
	if msg == "" {
		msg = "snapshot at " + time.Now().Format("2006-01-02 15:04:05")
	}
	// May fail if nothing changed since the last commit; that's fine.
	_, _ = m.runGit(ctx, nil, []string{"commit", "--allow-empty", "-m", msg}, "")

	m.mu.Lock()
	m.snapshots = append(m.snapshots, Info{
		TreeHash:     treeHash,
		Timestamp:    time.Now(),
		Label:        label,
		FilesChanged: files,
	})
	needsPrune := len(m.snapshots) > maxSnapshots
	m.mu.Unlock()

	if needsPrune {
		m.pruneOld(ctx)
	}

	m.logger.Debug("snapshot taken", zap.String("tree_hash", treeHash[:min(12, len(treeHash))]), zap.String("label", label))
	return treeHash, nil
}

// Restore resets the workspace to a previously captured tree, removing any
// files present in the workspace but absent from the target tree. It
// returns the list of files that changed as a result.
func (m *Manager) Restore(ctx context.Context, treeHash string) ([]string, error) {
	if err := m.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	changed, _ := m.diffTreeToWorkspace(ctx, treeHash)

	if _, err := m.runGit(ctx, nil, []string{"read-tree", treeHash}, ""); err != nil {
		return nil, fmt.Errorf("restore failed: %w", err)
	}
	if _, err := m.runGit(ctx, map[string]string{"GIT_WORK_TREE": m.workspacePath}, []string{"checkout-index", "-f", "-a", "--prefix="}, ""); err != nil {
		return nil, fmt.Errorf("restore failed: %w", err)
	}

	m.cleanExtraFiles(ctx, treeHash)

	m.logger.Info("restored snapshot", zap.String("tree_hash", treeHash[:min(12, len(treeHash))]), zap.Int("files_changed", len(changed)))
	return changed, nil
}

// Diff shows a patch between a prior snapshot and the current workspace.
func (m *Manager) Diff(ctx context.Context, treeHash string) (string, error) {
	if err := m.ensureInitialized(ctx); err != nil {
		return "", err
	}
	currentTree, err := m.writeCurrentTree(ctx)
	if err != nil {
		return "", err
	}
	out, err := m.runGit(ctx, nil, []string{"diff-tree", "-p", "--stat", treeHash, currentTree}, "")
	if err != nil {
		return fmt.Sprintf("error computing diff: %v", err), nil
	}
	return out, nil
}

// DiffSummary is Diff with only the file-level stat output.
func (m *Manager) DiffSummary(ctx context.Context, treeHash string) (string, error) {
	if err := m.ensureInitialized(ctx); err != nil {
		return "", err
	}
	currentTree, err := m.writeCurrentTree(ctx)
	if err != nil {
		return "", err
	}
	out, err := m.runGit(ctx, nil, []string{"diff-tree", "--stat", treeHash, currentTree}, "")
	if err != nil {
		return fmt.Sprintf("error computing diff: %v", err), nil
	}
	return out, nil
}

// ListSnapshots returns up to n recent snapshots, most recent first.
func (m *Manager) ListSnapshots(n int) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if len(m.snapshots) > n {
		start = len(m.snapshots) - n
	}
	out := make([]Info, 0, len(m.snapshots)-start)
	for i := len(m.snapshots) - 1; i >= start; i-- {
		out = append(out, m.snapshots[i])
	}
	return out
}

// GetSnapshot looks up a snapshot by full or prefix tree hash, most recent
// match first.
func (m *Manager) GetSnapshot(treeHashPrefix string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if strings.HasPrefix(m.snapshots[i].TreeHash, treeHashPrefix) {
			return m.snapshots[i], true
		}
	}
	return Info{}, false
}

func (m *Manager) writeCurrentTree(ctx context.Context) (string, error) {
	if _, err := m.runGit(ctx, nil, []string{"add", "-A", "--force"}, ""); err != nil {
		return "", err
	}
	out, err := m.runGit(ctx, nil, []string{"write-tree"}, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (m *Manager) diffTreeToWorkspace(ctx context.Context, treeHash string) ([]string, error) {
	currentTree, err := m.writeCurrentTree(ctx)
	if err != nil {
		return nil, err
	}
	out, err := m.runGit(ctx, nil, []string{"diff-tree", "--name-only", "-r", treeHash, currentTree}, "")
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(out), nil
}

func (m *Manager) cleanExtraFiles(ctx context.Context, treeHash string) {
	out, err := m.runGit(ctx, nil, []string{"ls-tree", "-r", "--name-only", treeHash}, "")
	if err != nil {
		return
	}
	treeFiles := toSet(splitNonEmpty(out))

	if _, err := m.runGit(ctx, nil, []string{"add", "-A", "--force"}, ""); err != nil {
		return
	}
	out, err = m.runGit(ctx, nil, []string{"ls-files"}, "")
	if err != nil {
		return
	}

	for _, f := range splitNonEmpty(out) {
		if _, inTree := treeFiles[f]; inTree {
			continue
		}
		fpath := filepath.Join(m.workspacePath, f)
		if info, err := os.Stat(fpath); err == nil && !info.IsDir() {
			if err := os.Remove(fpath); err == nil {
				m.logger.Debug("removed extra file", zap.String("path", f))
			}
		}
	}
}

func (m *Manager) pruneOld(ctx context.Context) {
	cutoff := time.Now().Add(-pruneAge)

	m.mu.Lock()
	before := len(m.snapshots)
	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.snapshots = kept
	pruned := before - len(m.snapshots)
	m.mu.Unlock()

	if pruned > 0 {
		m.logger.Info("pruned old snapshots", zap.Int("count", pruned))
	}
	_, _ = m.runGit(ctx, nil, []string{"gc", "--auto", "--quiet"}, "")
}

// GC runs aggressive garbage collection on the shadow repo and prunes
// expired snapshot metadata.
func (m *Manager) GC(ctx context.Context) error {
	if err := m.ensureInitialized(ctx); err != nil {
		return err
	}
	_, _ = m.runGit(ctx, nil, []string{"gc", "--aggressive", "--quiet"}, "")
	m.pruneOld(ctx)
	m.logger.Info("snapshot garbage collection complete")
	return nil
}

func splitNonEmpty(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
