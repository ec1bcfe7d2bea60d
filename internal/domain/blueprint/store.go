package blueprint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// DefaultBlueprintsDir returns ~/.ag3nt/blueprints, creating no
// directories itself.
func DefaultBlueprintsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ag3nt", "blueprints")
}

// Store persists one blueprint per JSON file under a directory, keyed by
// blueprint ID.
type Store struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore builds a Store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes blueprint to disk, creating the storage directory if
// needed.
func (s *Store) Save(bp *Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.NewStorageError("create blueprints directory", err)
	}
	data, err := json.MarshalIndent(bp, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("marshal blueprint", err)
	}
	if err := os.WriteFile(s.path(bp.ID), data, 0o644); err != nil {
		return apperrors.NewStorageError("write blueprint file", err)
	}
	s.logger.Debug("saved blueprint", zap.String("blueprint_id", bp.ID))
	return nil
}

// Load reads a blueprint by ID. A missing file or a malformed one is
// reported as (nil, false, nil) — ordinary Python-side "couldn't load"
// behavior — and logged rather than propagated, since a corrupt
// blueprint file shouldn't abort the caller's whole operation.
func (s *Store) Load(id string) (*Blueprint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*Blueprint, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewStorageError("read blueprint file", err)
	}

	var bp Blueprint
	if err := json.Unmarshal(data, &bp); err != nil {
		s.logger.Warn("failed to parse blueprint file", zap.String("blueprint_id", id), zap.Error(err))
		return nil, false, nil
	}
	return &bp, true, nil
}

// LoadForSession returns the most-recently-updated blueprint belonging
// to sessionID, or (nil, false, nil) if none exist.
func (s *Store) LoadForSession(sessionID string) (*Blueprint, bool, error) {
	all, err := s.listAll()
	if err != nil {
		return nil, false, err
	}

	var best *Blueprint
	for _, bp := range all {
		if bp.SessionID != sessionID {
			continue
		}
		if best == nil || bp.UpdatedAt.After(best.UpdatedAt) {
			best = bp
		}
	}
	return best, best != nil, nil
}

// ListRecent returns up to limit blueprints, most-recently-updated
// first.
func (s *Store) ListRecent(limit int) ([]*Blueprint, error) {
	all, err := s.listAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) listAll() ([]*Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("read blueprints directory", err)
	}

	var out []*Blueprint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		bp, ok, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, bp)
		}
	}
	return out, nil
}
