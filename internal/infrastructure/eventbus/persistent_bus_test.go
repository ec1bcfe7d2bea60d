package eventbus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

func TestPersistentBus_PublishAndReplay(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	bus.Start(context.Background())

	bus.Publish(newEvent("test.created", entity.PriorityLow))
	bus.Publish(newEvent("test.updated", entity.PriorityLow))
	bus.Publish(newEvent("test.deleted", entity.PriorityLow))
	time.Sleep(50 * time.Millisecond)
	bus.Stop()

	walPath := filepath.Join(dir, "events.wal")
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("WAL file not found: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("WAL file is empty")
	}

	bus2, err := NewPersistentBus(PersistentBusConfig{WALDir: dir}, logger)
	if err != nil {
		t.Fatalf("failed to create bus2: %v", err)
	}
	defer bus2.Stop()

	var mu sync.Mutex
	replayed := make([]string, 0)
	bus2.Subscribe("*", func(ctx context.Context, ev *entity.Event) error {
		mu.Lock()
		replayed = append(replayed, ev.Type)
		mu.Unlock()
		return nil
	})
	bus2.Start(context.Background())

	count, err := bus2.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if count != 3 {
		t.Fatalf("expected 3 replayed events, got %d", count)
	}

	mu.Lock()
	if len(replayed) != 3 {
		t.Fatalf("expected 3 handler calls, got %d", len(replayed))
	}
	mu.Unlock()
}

func TestPersistentBus_Truncate(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	bus.Start(context.Background())
	defer bus.Stop()

	bus.Publish(newEvent("test.event", entity.PriorityLow))
	time.Sleep(20 * time.Millisecond)

	if bus.WALSize() == 0 {
		t.Fatal("expected non-zero WAL size after publish")
	}

	if err := bus.Truncate(); err != nil {
		t.Fatalf("truncate error: %v", err)
	}

	if bus.WALSize() != 0 {
		t.Fatal("expected zero WAL size after truncate")
	}
}

func TestPersistentBus_WALRotation(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{
		WALDir:     dir,
		MaxWALSize: 100, // will rotate almost immediately
	}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	bus.Start(context.Background())
	defer bus.Stop()

	for i := 0; i < 10; i++ {
		bus.Publish(newEvent("test.rotation", entity.PriorityLow))
	}
	time.Sleep(50 * time.Millisecond)

	oldPath := filepath.Join(dir, "events.wal.old")
	if _, err := os.Stat(oldPath); os.IsNotExist(err) {
		t.Fatal("expected .old WAL file after rotation")
	}
}

func TestPersistentBus_DelegatesSubscriptionsAndMetrics(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	bus, err := NewPersistentBus(PersistentBusConfig{WALDir: dir}, logger)
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	bus.Start(context.Background())
	defer bus.Stop()

	bus.Subscribe("test", func(ctx context.Context, ev *entity.Event) error { return nil })
	bus.Publish(newEvent("test", entity.PriorityLow))
	time.Sleep(50 * time.Millisecond)

	if bus.Metrics().Subscriptions != 1 {
		t.Fatalf("expected 1 subscription, got %+v", bus.Metrics())
	}
	if bus.Metrics().EventsProcessed != 1 {
		t.Fatalf("expected 1 processed event, got %+v", bus.Metrics())
	}
}
