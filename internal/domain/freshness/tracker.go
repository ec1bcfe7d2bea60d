// Package freshness detects files modified externally since an agent last
// read them in a session, so an edit never silently clobbers a change the
// agent never saw.
package freshness

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// record is the read/write state of a single file within a session.
type record struct {
	readAt      time.Time
	mtimeAtRead time.Time
	writtenAt   time.Time
}

// Tracker records file read/write timestamps per session and rejects edits
// to files that have changed on disk since the session last read them.
type Tracker struct {
	logger *zap.Logger

	metaMu   sync.Mutex
	tracking map[string]map[string]*record // sessionID -> path -> record
	locks    map[string]*sync.Mutex        // path -> write lock, global across sessions
}

// NewTracker builds an empty Tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:   logger,
		tracking: make(map[string]map[string]*record),
		locks:    make(map[string]*sync.Mutex),
	}
}

// RecordRead stores the file's current mtime against sessionID, marking it
// as freshly read.
func (t *Tracker) RecordRead(sessionID, path string) error {
	path = filepath.Clean(path)
	mtime, err := fileMtime(path)
	if err != nil {
		return err
	}

	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	if t.tracking[sessionID] == nil {
		t.tracking[sessionID] = make(map[string]*record)
	}
	t.tracking[sessionID][path] = &record{readAt: time.Now(), mtimeAtRead: mtime}

	t.logger.Debug("recorded read", zap.String("session_id", sessionID), zap.String("path", path))
	return nil
}

// RecordWrite updates the stored mtime after the agent itself modifies the
// file, so the next AssertFresh call sees the agent's own write as current.
func (t *Tracker) RecordWrite(sessionID, path string) error {
	path = filepath.Clean(path)
	mtime, err := fileMtime(path)
	if err != nil {
		return err
	}
	now := time.Now()

	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	if t.tracking[sessionID] == nil {
		t.tracking[sessionID] = make(map[string]*record)
	}
	if r, ok := t.tracking[sessionID][path]; ok {
		r.mtimeAtRead = mtime
		r.writtenAt = now
	} else {
		t.tracking[sessionID][path] = &record{readAt: now, mtimeAtRead: mtime, writtenAt: now}
	}

	t.logger.Debug("recorded write", zap.String("session_id", sessionID), zap.String("path", path))
	return nil
}

// AssertFresh returns an error if path was never read in sessionID
// (apperrors.CodeNotReady) or has been modified externally since the
// last read (apperrors.CodeStaleState). It returns nil when the file is
// fresh.
func (t *Tracker) AssertFresh(sessionID, path string) error {
	path = filepath.Clean(path)

	t.metaMu.Lock()
	sessionFiles := t.tracking[sessionID]
	var r *record
	if sessionFiles != nil {
		r = sessionFiles[path]
	}
	t.metaMu.Unlock()

	if r == nil {
		return apperrors.NewNotReadyError(
			fmt.Sprintf("file %q has not been read in this session; read it before editing", path))
	}

	currentMtime, err := fileMtime(path)
	if err != nil {
		return err
	}
	if !currentMtime.Equal(r.mtimeAtRead) {
		return apperrors.NewStaleStateError(fmt.Sprintf(
			"file %q was modified externally since it was last read (read at %s, modified at %s); read it again before editing",
			path, r.readAt.Format(time.RFC3339), currentMtime.Format(time.RFC3339)))
	}

	t.logger.Debug("file is fresh", zap.String("session_id", sessionID), zap.String("path", path))
	return nil
}

// IsFresh is AssertFresh without the error value, for callers that just
// need a boolean.
func (t *Tracker) IsFresh(sessionID, path string) bool {
	return t.AssertFresh(sessionID, path) == nil
}

// Invalidate discards the tracked record for path within sessionID —
// useful when an external file watcher reports a change for a known
// session.
func (t *Tracker) Invalidate(sessionID, path string) {
	path = filepath.Clean(path)

	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	if sessionFiles, ok := t.tracking[sessionID]; ok {
		delete(sessionFiles, path)
		t.logger.Debug("invalidated tracking", zap.String("session_id", sessionID), zap.String("path", path))
	}
}

// InvalidateAllSessions discards path's tracked record across every
// session — used when a file watcher detects an external change but
// doesn't know which session is responsible.
func (t *Tracker) InvalidateAllSessions(path string) {
	path = filepath.Clean(path)

	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	for sessionID, sessionFiles := range t.tracking {
		if _, ok := sessionFiles[path]; ok {
			delete(sessionFiles, path)
			t.logger.Debug("invalidated tracking (all sessions)", zap.String("session_id", sessionID), zap.String("path", path))
		}
	}
}

// ClearSession discards all tracked files for a session.
func (t *Tracker) ClearSession(sessionID string) {
	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	delete(t.tracking, sessionID)
	t.logger.Debug("cleared session tracking", zap.String("session_id", sessionID))
}

// AcquireWriteLock returns a release function after taking a global
// (cross-session) lock on path, preventing two sessions from writing the
// same file concurrently. Callers should defer the returned function.
func (t *Tracker) AcquireWriteLock(sessionID, path string) func() {
	path = filepath.Clean(path)

	t.metaMu.Lock()
	lock, ok := t.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[path] = lock
	}
	t.metaMu.Unlock()

	t.logger.Debug("acquiring write lock", zap.String("session_id", sessionID), zap.String("path", path))
	lock.Lock()
	t.logger.Debug("write lock acquired", zap.String("session_id", sessionID), zap.String("path", path))

	return func() {
		lock.Unlock()
		t.logger.Debug("write lock released", zap.String("session_id", sessionID), zap.String("path", path))
	}
}

func fileMtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(fmt.Sprintf("stat %q: %v", path, err))
	}
	return info.ModTime(), nil
}
