package snapshot

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one Manager per resolved workspace path, so callers
// across a process share a single shadow-repo handle instead of racing two
// Managers against the same git index.
type Registry struct {
	mu       sync.Mutex
	logger   *zap.Logger
	managers map[string]*Manager
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger, managers: make(map[string]*Manager)}
}

// Get returns the Manager for workspacePath, creating one on first use. An
// empty workspacePath defaults to ~/.ag3nt/workspace.
func (r *Registry) Get(workspacePath string) (*Manager, error) {
	if workspacePath == "" {
		home, _ := os.UserHomeDir()
		workspacePath = filepath.Join(home, ".ag3nt", "workspace")
	}
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[abs]; ok {
		return m, nil
	}
	m, err := New(abs, "", r.logger)
	if err != nil {
		return nil, err
	}
	r.managers[abs] = m
	return m, nil
}
