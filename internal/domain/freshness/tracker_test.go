package freshness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestTracker_AssertFresh_NeverReadFails(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	err := tracker.AssertFresh("sess1", path)
	if err == nil {
		t.Fatal("expected error for a file never read in this session")
	}
	if !apperrors.IsNotReady(err) {
		t.Fatalf("expected CodeNotReady, got %v", err)
	}
}

func TestTracker_AssertFresh_FreshAfterRead(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	if err := tracker.AssertFresh("sess1", path); err != nil {
		t.Fatalf("expected file to be fresh, got %v", err)
	}
}

func TestTracker_AssertFresh_StaleAfterExternalModification(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	// Force a distinct mtime, simulating an external edit.
	later := time.Now().Add(2 * time.Second)
	writeTestFile(t, path, "v2 - modified externally")
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	err := tracker.AssertFresh("sess1", path)
	if err == nil {
		t.Fatal("expected stale file error")
	}
	if !apperrors.IsStaleState(err) {
		t.Fatalf("expected CodeStaleState, got %v", err)
	}
}

func TestTracker_RecordWriteRefreshesMtime(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	later := time.Now().Add(2 * time.Second)
	writeTestFile(t, path, "v2")
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := tracker.RecordWrite("sess1", path); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}

	if err := tracker.AssertFresh("sess1", path); err != nil {
		t.Fatalf("expected file fresh after agent's own write, got %v", err)
	}
}

func TestTracker_IsFresh(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if tracker.IsFresh("sess1", path) {
		t.Fatal("expected unread file to be not-fresh")
	}
	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	if !tracker.IsFresh("sess1", path) {
		t.Fatal("expected freshly-read file to be fresh")
	}
}

func TestTracker_Invalidate(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	tracker.Invalidate("sess1", path)

	if tracker.IsFresh("sess1", path) {
		t.Fatal("expected invalidated file to require re-read")
	}
}

func TestTracker_InvalidateAllSessions(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	if err := tracker.RecordRead("sess2", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}

	tracker.InvalidateAllSessions(path)

	if tracker.IsFresh("sess1", path) || tracker.IsFresh("sess2", path) {
		t.Fatal("expected invalidation to clear tracking in every session")
	}
}

func TestTracker_ClearSession(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	if err := tracker.RecordRead("sess1", path); err != nil {
		t.Fatalf("RecordRead: %v", err)
	}
	tracker.ClearSession("sess1")

	if tracker.IsFresh("sess1", path) {
		t.Fatal("expected cleared session to require re-read")
	}
}

func TestTracker_AcquireWriteLockSerializesAccess(t *testing.T) {
	tracker := NewTracker(zap.NewNop())
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "v1")

	release := tracker.AcquireWriteLock("sess1", path)

	done := make(chan struct{})
	go func() {
		release2 := tracker.AcquireWriteLock("sess2", path)
		release2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected second lock acquisition to block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	<-done
}
