package eventbus

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/persistence/models"
)

// Handler processes one event. A returned error triggers the bus's
// retry-then-DLQ path.
type Handler func(ctx context.Context, event *entity.Event) error

// Config tunes retry, dedup, and shutdown behavior.
type Config struct {
	MaxRetries   int           // default 3
	BackoffBase  time.Duration // default 1s
	DedupWindow  time.Duration // default 60s
	MaxDLQSize   int           // default 1000; oldest entries trimmed beyond this
	DrainOnClose bool          // if true, Stop waits for the queue to empty before returning
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 60 * time.Second
	}
	if c.MaxDLQSize <= 0 {
		c.MaxDLQSize = 1000
	}
	return c
}

// Metrics is a point-in-time snapshot of bus counters.
type Metrics struct {
	EventsReceived     uint64
	EventsProcessed    uint64
	EventsDeduplicated uint64
	DLQDepth           int
	Subscriptions      int
}

type subscription struct {
	id        uint64
	eventType string // "" or "*" matches every event type
	handler   Handler
}

// Bus is a priority, dedup, retry, and DLQ aware event dispatcher. Events
// are ordered by (priority, arrival_order) in a binary heap; a single
// dispatch worker pops the highest-priority event and runs its matching
// handlers sequentially, so two handlers never race over the same event.
type Bus struct {
	logger *zap.Logger
	config Config
	db     *gorm.DB // optional; when set, DLQ entries are also persisted for restart survival

	mu       sync.Mutex
	cond     *sync.Cond
	queue    eventHeap
	nextSeq  uint64
	started  bool
	stopping bool
	stopped  bool
	drain    bool

	subsMu  sync.RWMutex
	subs    []subscription
	nextSub uint64

	dedupMu   sync.Mutex
	dedupSeen map[string]time.Time

	dlqMu sync.Mutex
	dlq   []entity.DLQEntry

	metricsMu sync.Mutex
	received  uint64
	processed uint64
	deduped   uint64

	wg sync.WaitGroup
}

// NewBus constructs a Bus. The dispatch worker does not run until Start is
// called.
func NewBus(logger *zap.Logger, config Config) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger:    logger.With(zap.String("component", "event-bus")),
		config:    config.withDefaults(),
		dedupSeen: make(map[string]time.Time),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewBusWithDLQStore builds a Bus whose dead-letter entries are also
// persisted to db (models.DLQRecordModel), so operators can inspect
// failed events after a restart instead of only the in-memory DLQ()
// snapshot.
func NewBusWithDLQStore(logger *zap.Logger, config Config, db *gorm.DB) *Bus {
	b := NewBus(logger, config)
	b.db = db
	return b
}

// Start launches the dispatch worker. Calling Start twice is a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatchLoop(ctx)
}

// Stop halts the dispatch worker. If Config.DrainOnClose is set, pending
// events are dispatched before the worker exits; otherwise they are
// discarded. No events are accepted once Stop returns.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopping = true
	b.drain = b.config.DrainOnClose
	b.cond.Broadcast()
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.logger.Info("event bus stopped")
}

// Publish enqueues event for dispatch. It returns (deduplicated=true, nil)
// when an event sharing the same dedup_key was already seen within the
// dedup window — the event is dropped without being queued. Publishing
// after Stop returns an error.
func (b *Bus) Publish(event *entity.Event) (bool, error) {
	b.mu.Lock()
	if b.stopped || b.stopping {
		b.mu.Unlock()
		return false, fmt.Errorf("event bus is shutting down")
	}
	b.mu.Unlock()

	if event.DedupKey != "" && b.isDuplicate(event.DedupKey) {
		b.metricsMu.Lock()
		b.deduped++
		b.metricsMu.Unlock()
		return true, nil
	}

	b.mu.Lock()
	event.SetArrivalOrder(b.nextSeq)
	b.nextSeq++
	heap.Push(&b.queue, event)
	b.cond.Signal()
	b.mu.Unlock()

	b.metricsMu.Lock()
	b.received++
	b.metricsMu.Unlock()
	return false, nil
}

func (b *Bus) isDuplicate(key string) bool {
	now := time.Now()
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()

	for k, seenAt := range b.dedupSeen {
		if now.Sub(seenAt) > b.config.DedupWindow {
			delete(b.dedupSeen, k)
		}
	}

	if seenAt, ok := b.dedupSeen[key]; ok && now.Sub(seenAt) <= b.config.DedupWindow {
		return true
	}
	b.dedupSeen[key] = now
	return false
}

// Subscribe registers handler for eventType ("" or "*" subscribes to every
// event type) and returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uint64 {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	return id
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(id uint64) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) matchingHandlers(eventType string) []Handler {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	var out []Handler
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == "*" || s.eventType == eventType {
			out = append(out, s.handler)
		}
	}
	return out
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		for b.queue.Len() == 0 && !b.stopping {
			b.cond.Wait()
		}
		if b.queue.Len() == 0 {
			b.mu.Unlock()
			return
		}
		if b.stopping && !b.drain {
			b.mu.Unlock()
			return
		}
		ev := heap.Pop(&b.queue).(*entity.Event)
		b.mu.Unlock()

		b.dispatchEvent(ctx, ev)
	}
}

// dispatchEvent runs every matching handler sequentially, in registration
// order — handlers may not mutate the event. A handler error retries the
// whole event, after a backoff proportional to the retry count, up to
// MaxRetries; beyond that the event moves to the DLQ.
func (b *Bus) dispatchEvent(ctx context.Context, ev *entity.Event) {
	handlers := b.matchingHandlers(ev.Type)
	var lastErr error
	for _, h := range handlers {
		if err := b.runHandler(ctx, h, ev); err != nil {
			lastErr = err
		}
	}

	if lastErr == nil {
		b.metricsMu.Lock()
		b.processed++
		b.metricsMu.Unlock()
		return
	}

	if ev.RetryCount < b.config.MaxRetries {
		ev.RetryCount++
		delay := time.Duration(ev.RetryCount) * b.config.BackoffBase
		b.logger.Warn("handler failed, retrying event",
			zap.String("event_type", ev.Type), zap.Int("retry_count", ev.RetryCount), zap.Error(lastErr))
		time.AfterFunc(delay, func() {
			b.mu.Lock()
			if b.stopped {
				b.mu.Unlock()
				return
			}
			ev.SetArrivalOrder(b.nextSeq)
			b.nextSeq++
			heap.Push(&b.queue, ev)
			b.cond.Signal()
			b.mu.Unlock()
		})
		return
	}

	b.recordDLQ(*ev, lastErr)
}

func (b *Bus) runHandler(ctx context.Context, h Handler, ev *entity.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			b.logger.Error("event handler panicked", zap.String("event_type", ev.Type), zap.Any("panic", r))
		}
	}()
	return h(ctx, ev)
}

func (b *Bus) recordDLQ(ev entity.Event, lastErr error) {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	b.dlq = append(b.dlq, entity.DLQEntry{
		Event:      ev,
		LastError:  lastErr.Error(),
		RetryCount: ev.RetryCount,
		FailedAt:   time.Now(),
	})
	if len(b.dlq) > b.config.MaxDLQSize {
		b.dlq = b.dlq[len(b.dlq)-b.config.MaxDLQSize:]
	}
	b.logger.Error("event moved to dead-letter queue",
		zap.String("event_type", ev.Type), zap.Int("retry_count", ev.RetryCount), zap.Error(lastErr))

	b.persistDLQ(ev, lastErr)
}

func (b *Bus) persistDLQ(ev entity.Event, lastErr error) {
	if b.db == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal DLQ event for persistence", zap.Error(err))
		return
	}
	row := models.DLQRecordModel{
		EventID:    ev.ID,
		EventType:  ev.Type,
		EventJSON:  string(payload),
		LastError:  lastErr.Error(),
		RetryCount: ev.RetryCount,
		FailedAt:   time.Now(),
	}
	if err := b.db.Create(&row).Error; err != nil {
		b.logger.Error("persist DLQ entry", zap.Error(err))
	}
}

// DLQ returns a copy of the current dead-letter queue.
func (b *Bus) DLQ() []entity.DLQEntry {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]entity.DLQEntry, len(b.dlq))
	copy(out, b.dlq)
	return out
}

// Metrics returns a snapshot of bus counters.
func (b *Bus) Metrics() Metrics {
	b.metricsMu.Lock()
	received, processed, deduped := b.received, b.processed, b.deduped
	b.metricsMu.Unlock()

	b.subsMu.RLock()
	subCount := len(b.subs)
	b.subsMu.RUnlock()

	b.dlqMu.Lock()
	dlqDepth := len(b.dlq)
	b.dlqMu.Unlock()

	return Metrics{
		EventsReceived:     received,
		EventsProcessed:    processed,
		EventsDeduplicated: deduped,
		DLQDepth:           dlqDepth,
		Subscriptions:      subCount,
	}
}

// eventHeap orders *entity.Event by priority descending, then arrival_order
// ascending, so CRITICAL events jump the line and FIFO holds within a class.
type eventHeap []*entity.Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ArrivalOrder() < h[j].ArrivalOrder()
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*entity.Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
