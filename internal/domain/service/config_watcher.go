package service

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuntimeTuning holds the decision-engine thresholds ConfigWatcher
// hot-reloads, so operators can tighten or relax autonomy without a
// restart.
type RuntimeTuning struct {
	MinSamplesRequired   int     `json:"min_samples_required"`
	RejectThreshold      float64 `json:"reject_threshold"`
	EscalateAfterFailures int    `json:"escalate_after_failures"`
}

// DefaultRuntimeTuning mirrors decision.DefaultConfig's values.
func DefaultRuntimeTuning() RuntimeTuning {
	return RuntimeTuning{MinSamplesRequired: 3, RejectThreshold: 0.1, EscalateAfterFailures: 3}
}

// ConfigWatcher monitors a JSON config file and hot-reloads RuntimeTuning
// when the file changes. Safe for concurrent reads.
//
// Usage:
//
//	watcher := NewConfigWatcher("/etc/ag3nt/tuning.json", logger)
//	go watcher.Start()
//	defer watcher.Stop()
//	tuning := watcher.Config() // Always returns latest
type ConfigWatcher struct {
	path     string
	mu       sync.RWMutex
	config   RuntimeTuning
	lastMod  time.Time
	interval time.Duration
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewConfigWatcher creates a config file watcher with polling.
// If the file doesn't exist or can't be parsed, defaults are used.
func NewConfigWatcher(path string, logger *zap.Logger) *ConfigWatcher {
	w := &ConfigWatcher{
		path:     path,
		config:   DefaultRuntimeTuning(),
		interval: 5 * time.Second,
		stopCh:   make(chan struct{}),
		logger:   logger.With(zap.String("component", "config-watcher")),
	}

	if err := w.reload(); err != nil {
		w.logger.Warn("initial config load failed, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
	}

	return w
}

// Config returns the current tuning (thread-safe).
func (w *ConfigWatcher) Config() RuntimeTuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins polling the config file for changes. Blocks until Stop is
// called.
func (w *ConfigWatcher) Start() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval),
	)

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue // file might not exist yet
			}

			w.mu.RLock()
			lastMod := w.lastMod
			w.mu.RUnlock()

			if info.ModTime().After(lastMod) {
				if err := w.reload(); err != nil {
					w.logger.Warn("config reload failed", zap.Error(err))
				}
			}
		}
	}
}

// Stop signals the watcher to stop polling.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
}

// reload reads and applies the config file.
func (w *ConfigWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	newConfig := DefaultRuntimeTuning()
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return err
	}

	info, _ := os.Stat(w.path)

	w.mu.Lock()
	w.config = newConfig
	if info != nil {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.Float64("reject_threshold", newConfig.RejectThreshold),
	)

	return nil
}

// SetInterval changes the polling interval (for testing).
func (w *ConfigWatcher) SetInterval(d time.Duration) {
	w.interval = d
}
