package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	requireGit(t)

	workspace := t.TempDir()
	snapshotsRoot := t.TempDir()
	m, err := New(workspace, snapshotsRoot, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, workspace
}

func TestManager_TakeSnapshotAndRestore(t *testing.T) {
	m, workspace := newTestManager(t)
	ctx := context.Background()

	fpath := filepath.Join(workspace, "a.txt")
	if err := os.WriteFile(fpath, []byte("version 1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	hash1, err := m.TakeSnapshot(ctx, "initial", []string{"a.txt"})
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if hash1 == "" {
		t.Fatal("expected a non-empty tree hash")
	}

	if err := os.WriteFile(fpath, []byte("version 2"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	changed, err := m.Restore(ctx, hash1)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(changed) == 0 {
		t.Fatal("expected restore to report changed files")
	}

	data, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(data) != "version 1" {
		t.Fatalf("expected restored content 'version 1', got %q", data)
	}
}

func TestManager_RestoreRemovesExtraFiles(t *testing.T) {
	m, workspace := newTestManager(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(workspace, "keep.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash, err := m.TakeSnapshot(ctx, "baseline", nil)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	newFile := filepath.Join(workspace, "new.txt")
	if err := os.WriteFile(newFile, []byte("should be removed"), 0o644); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	if _, err := m.Restore(ctx, hash); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := os.Stat(newFile); !os.IsNotExist(err) {
		t.Fatal("expected file absent from the snapshot to be removed on restore")
	}
}

func TestManager_ListSnapshotsMostRecentFirst(t *testing.T) {
	m, workspace := newTestManager(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := m.TakeSnapshot(ctx, "first", nil); err != nil {
		t.Fatalf("TakeSnapshot 1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("2"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := m.TakeSnapshot(ctx, "second", nil); err != nil {
		t.Fatalf("TakeSnapshot 2: %v", err)
	}

	list := m.ListSnapshots(10)
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].Label != "second" {
		t.Fatalf("expected most recent snapshot first, got %q", list[0].Label)
	}
}

func TestManager_GetSnapshotByPrefix(t *testing.T) {
	m, workspace := newTestManager(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("1"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash, err := m.TakeSnapshot(ctx, "tagged", nil)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	info, ok := m.GetSnapshot(hash[:8])
	if !ok {
		t.Fatal("expected snapshot lookup by prefix to succeed")
	}
	if info.TreeHash != hash {
		t.Fatalf("expected full hash %q, got %q", hash, info.TreeHash)
	}
}

func TestManager_DiffReportsChanges(t *testing.T) {
	m, workspace := newTestManager(t)
	ctx := context.Background()

	fpath := filepath.Join(workspace, "a.txt")
	if err := os.WriteFile(fpath, []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash, err := m.TakeSnapshot(ctx, "baseline", nil)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	if err := os.WriteFile(fpath, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("modify file: %v", err)
	}

	diff, err := m.Diff(ctx, hash)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if diff == "" {
		t.Fatal("expected non-empty diff output after a modification")
	}
}

func TestRegistry_ReusesManagerPerWorkspace(t *testing.T) {
	requireGit(t)
	workspace := t.TempDir()
	reg := NewRegistry(zap.NewNop())

	first, err := reg.Get(workspace)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := reg.Get(workspace)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Fatal("expected the registry to return the same manager for the same workspace")
	}
}
