package eventbus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

// PersistentBus wraps Bus with a write-ahead log (WAL) for event
// persistence.
//
// Events are serialized as JSON lines to a WAL file before being handed to
// the inner Bus. On recovery, Replay() reads the WAL and republishes each
// event. Rotation keeps the WAL from growing unbounded.
type PersistentBus struct {
	inner   *Bus
	walFile *os.File
	writer  *bufio.Writer
	walPath string
	mu      sync.Mutex // protects file writes
	logger  *zap.Logger

	maxWALSize int64 // bytes; always positive (default: 10MB), so rotation is always on
	written    int64
}

// PersistentBusConfig configures the persistent event bus.
type PersistentBusConfig struct {
	WALDir     string // directory for WAL files (required)
	Bus        Config // forwarded to the inner Bus
	MaxWALSize int64  // max WAL file size before rotation (0 or less selects the 10MB default)
}

// NewPersistentBus creates a persistent event bus backed by a WAL file.
func NewPersistentBus(cfg PersistentBusConfig, logger *zap.Logger) (*PersistentBus, error) {
	if cfg.WALDir == "" {
		return nil, fmt.Errorf("WALDir is required")
	}
	if cfg.MaxWALSize <= 0 {
		cfg.MaxWALSize = 10 * 1024 * 1024 // 10MB
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL dir: %w", err)
	}

	walPath := filepath.Join(cfg.WALDir, "events.wal")
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	stat, _ := f.Stat()
	var currentSize int64
	if stat != nil {
		currentSize = stat.Size()
	}

	inner := NewBus(logger, cfg.Bus)

	return &PersistentBus{
		inner:      inner,
		walFile:    f,
		writer:     bufio.NewWriterSize(f, 64*1024),
		walPath:    walPath,
		logger:     logger.With(zap.String("component", "persistent-bus")),
		maxWALSize: cfg.MaxWALSize,
		written:    currentSize,
	}, nil
}

// Start launches the inner bus's dispatch worker.
func (b *PersistentBus) Start(ctx context.Context) { b.inner.Start(ctx) }

// Publish persists event to the WAL, then delegates to the inner bus.
func (b *PersistentBus) Publish(event *entity.Event) (bool, error) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal event for WAL", zap.String("type", event.Type), zap.Error(err))
	} else {
		b.mu.Lock()
		n, writeErr := b.writer.Write(append(data, '\n'))
		if writeErr != nil {
			b.logger.Error("WAL write failed", zap.String("type", event.Type), zap.Error(writeErr))
		}
		b.written += int64(n)
		_ = b.writer.Flush()

		if b.maxWALSize > 0 && b.written >= b.maxWALSize {
			b.rotateLocked()
		}
		b.mu.Unlock()
	}

	return b.inner.Publish(event)
}

// Subscribe delegates to the inner bus.
func (b *PersistentBus) Subscribe(eventType string, handler Handler) uint64 {
	return b.inner.Subscribe(eventType, handler)
}

// Unsubscribe delegates to the inner bus.
func (b *PersistentBus) Unsubscribe(id uint64) { b.inner.Unsubscribe(id) }

// Metrics delegates to the inner bus.
func (b *PersistentBus) Metrics() Metrics { return b.inner.Metrics() }

// DLQ delegates to the inner bus.
func (b *PersistentBus) DLQ() []entity.DLQEntry { return b.inner.DLQ() }

// Stop flushes the WAL and shuts down the inner bus.
func (b *PersistentBus) Stop() {
	b.mu.Lock()
	_ = b.writer.Flush()
	_ = b.walFile.Sync()
	_ = b.walFile.Close()
	b.mu.Unlock()

	b.inner.Stop()
	b.logger.Info("persistent event bus stopped")
}

// Replay reads the WAL file and re-emits events to registered handlers.
// This should be called after Subscribe but before normal operation.
// Returns the number of events replayed.
func (b *PersistentBus) Replay(ctx context.Context) (int, error) {
	f, err := os.Open(b.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // No WAL file, nothing to replay
		}
		return 0, fmt.Errorf("open WAL for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	count := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev entity.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			b.logger.Warn("skipping corrupt WAL entry", zap.Error(err))
			continue
		}

		if _, err := b.inner.Publish(&ev); err != nil {
			return count, err
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("WAL scan error: %w", err)
	}

	b.logger.Info("WAL replay complete",
		zap.Int("events_replayed", count),
	)
	return count, nil
}

// Truncate clears the WAL file, resetting the log.
// Useful after a clean snapshot or checkpoint.
func (b *PersistentBus) Truncate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.writer.Flush()
	_ = b.walFile.Close()

	f, err := os.Create(b.walPath) // truncate and reopen
	if err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL truncated")
	return nil
}

// rotateLocked rotates the WAL file (must be called with b.mu held).
func (b *PersistentBus) rotateLocked() {
	_ = b.writer.Flush()
	_ = b.walFile.Close()

	// Rename current WAL to .old (simple single-file rotation)
	oldPath := b.walPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(b.walPath, oldPath)

	f, err := os.OpenFile(b.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		b.logger.Error("WAL rotation failed", zap.Error(err))
		return
	}

	b.walFile = f
	b.writer = bufio.NewWriterSize(f, 64*1024)
	b.written = 0

	b.logger.Info("WAL rotated",
		zap.String("old_path", oldPath),
	)
}

// WALSize returns the current WAL file size in bytes.
func (b *PersistentBus) WALSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}
