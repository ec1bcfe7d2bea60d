// Package pool implements the warm agent pool: a bounded set of pre-built
// agent-builder instances kept ready so a new session can start a turn
// without paying the builder's cold-start cost.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
	"github.com/ag3nt-run/ag3nt/pkg/safego"
)

// Builder constructs the opaque LLM-bound executor an AgentInstance wraps.
// The pool never looks inside what it returns.
type Builder interface {
	Build(ctx context.Context) (interface{}, error)
}

// Config bounds pool size, instance lifetime, and the background warmup
// trigger.
type Config struct {
	MinWarm         int           // instances kept ready even when idle
	MaxSize         int           // hard cap on concurrently checked-out + warm instances
	MaxIdleTime     time.Duration // warm instances older than this are recycled by the reaper
	MaxAge          time.Duration // instances older than this are retired on acquire, 0 = unbounded
	MaxTurns        int           // instances are recycled after this many turns, 0 = unbounded
	WarmupThreshold float64       // trigger background warmup when warm count drops below MinWarm*WarmupThreshold
}

// DefaultConfig returns conservative pool bounds.
func DefaultConfig() Config {
	return Config{
		MinWarm:         2,
		MaxSize:         16,
		MaxIdleTime:     10 * time.Minute,
		MaxAge:          time.Hour,
		MaxTurns:        100,
		WarmupThreshold: 0.5,
	}
}

// Pool manages a warm set of AgentInstances plus the checked-out ones.
type Pool struct {
	mu       sync.Mutex
	warm     []*entity.AgentInstance // FIFO: index 0 is the oldest valid entry
	checked  map[string]*entity.AgentInstance
	builder  Builder
	config   Config
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	warming  bool

	acquires         int
	hits             int
	misses           int
	retirements      int
	warmupsStarted   int
	warmupsCompleted int
}

// New creates a pool. Call Start to begin background warm-fill and reaping.
func New(builder Builder, config Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WarmupThreshold <= 0 {
		config.WarmupThreshold = DefaultConfig().WarmupThreshold
	}
	return &Pool{
		checked: make(map[string]*entity.AgentInstance),
		builder: builder,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start fills the pool up to MinWarm and launches the background reaper.
// It blocks only for the initial fill; the reaper runs in its own
// goroutine until Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.fillTo(ctx, p.config.MinWarm); err != nil {
		return err
	}
	safego.Go(p.logger, "pool-reaper", p.reapLoop)
	return nil
}

// Stop halts the background reaper. Outstanding checked-out instances are
// left untouched — callers are responsible for checking them back in.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Checkout pops the oldest valid warm instance (FIFO), skipping and
// discarding any entry that is stale (past MaxAge) or exhausted (past
// MaxTurns), building a fresh one synchronously — a reported miss — if the
// pool runs dry. Returns apperrors.NewQuotaError if the pool is at MaxSize
// with no warm instance available.
func (p *Pool) Checkout(ctx context.Context) (*entity.AgentInstance, error) {
	p.mu.Lock()
	p.acquires++

	now := time.Now()
	for len(p.warm) > 0 {
		inst := p.warm[0]
		p.warm = p.warm[1:]

		if p.isStale(inst, now) || p.isExhausted(inst) {
			p.retirements++
			p.logger.Debug("retiring warm agent instance before handout",
				zap.String("agent_id", inst.ID),
				zap.Int("turns", inst.TurnsExecuted),
			)
			continue
		}

		p.checked[inst.ID] = inst
		p.hits++
		occupancy := len(p.warm)
		shouldWarm := !p.warming && float64(occupancy) < float64(p.config.MinWarm)*p.config.WarmupThreshold
		if shouldWarm {
			p.warming = true
			p.warmupsStarted++
		}
		p.mu.Unlock()

		inst.LastUsedAt = now

		if shouldWarm {
			safego.Go(p.logger, "pool-warmup", p.backgroundWarmup)
		}
		return inst, nil
	}

	total := len(p.checked)
	atCapacity := total >= p.config.MaxSize
	p.mu.Unlock()

	if atCapacity {
		return nil, apperrors.NewQuotaError("agent pool at capacity")
	}

	inst, err := p.build(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.checked[inst.ID] = inst
	p.misses++
	p.mu.Unlock()
	return inst, nil
}

// Checkin returns an instance to the warm set, or discards it if it has
// exceeded MaxAge/MaxTurns or the pool is already oversubscribed.
func (p *Pool) Checkin(inst *entity.AgentInstance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.checked, inst.ID)
	inst.LastUsedAt = time.Now()

	if p.isStale(inst, inst.LastUsedAt) || p.isExhausted(inst) {
		p.retirements++
		p.logger.Debug("recycling agent instance past age/turn limit",
			zap.String("agent_id", inst.ID),
			zap.Int("turns", inst.TurnsExecuted),
		)
		return
	}
	if len(p.warm)+len(p.checked) >= p.config.MaxSize {
		return
	}
	p.warm = append(p.warm, inst)
}

// Discard drops an instance entirely, for example after it errored in a way
// that makes it unsafe to reuse.
func (p *Pool) Discard(inst *entity.AgentInstance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	delete(p.checked, inst.ID)
	p.mu.Unlock()
}

// Stats reports pool occupancy and the acquire/hit/miss/warmup counters the
// testable FIFO/single-flight invariants are checked against.
type Stats struct {
	Warm             int
	CheckedOut       int
	MaxSize          int
	Acquires         int
	Hits             int
	Misses           int
	Retirements      int
	WarmupsStarted   int
	WarmupsCompleted int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Warm:             len(p.warm),
		CheckedOut:       len(p.checked),
		MaxSize:          p.config.MaxSize,
		Acquires:         p.acquires,
		Hits:             p.hits,
		Misses:           p.misses,
		Retirements:      p.retirements,
		WarmupsStarted:   p.warmupsStarted,
		WarmupsCompleted: p.warmupsCompleted,
	}
}

func (p *Pool) isStale(inst *entity.AgentInstance, now time.Time) bool {
	return p.config.MaxAge > 0 && now.Sub(inst.CreatedAt) > p.config.MaxAge
}

func (p *Pool) isExhausted(inst *entity.AgentInstance) bool {
	return p.config.MaxTurns > 0 && inst.TurnsExecuted >= p.config.MaxTurns
}

func (p *Pool) build(ctx context.Context) (*entity.AgentInstance, error) {
	built, err := p.builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build agent instance: %w", err)
	}
	now := time.Now()
	return &entity.AgentInstance{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		LastUsedAt: now,
		Build:      built,
	}, nil
}

// backgroundWarmup refills the pool up to MinWarm, then clears the single
// warming flag under the pool lock regardless of outcome. At most one of
// these runs at a time — Checkout only launches it while p.warming is false.
func (p *Pool) backgroundWarmup() {
	err := p.fillTo(context.Background(), p.config.MinWarm)

	p.mu.Lock()
	p.warming = false
	if err == nil {
		p.warmupsCompleted++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("background warmup failed", zap.Error(err))
	}
}

func (p *Pool) fillTo(ctx context.Context, target int) error {
	for {
		p.mu.Lock()
		total := len(p.warm) + len(p.checked)
		needed := target - len(p.warm)
		full := total >= p.config.MaxSize
		p.mu.Unlock()

		if needed <= 0 || full {
			return nil
		}

		inst, err := p.build(ctx)
		if err != nil {
			p.logger.Warn("failed to warm agent instance", zap.Error(err))
			return err
		}
		p.mu.Lock()
		p.warm = append(p.warm, inst)
		p.mu.Unlock()
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
			_ = p.fillTo(context.Background(), p.config.MinWarm)
		}
	}
}

func (p *Pool) reapIdle() {
	if p.config.MaxIdleTime <= 0 && p.config.MaxAge <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.warm[:0]
	now := time.Now()
	for _, inst := range p.warm {
		agedOut := p.config.MaxIdleTime > 0 && now.Sub(inst.LastUsedAt) > p.config.MaxIdleTime
		stale := p.isStale(inst, now)
		if (agedOut || stale) && len(kept) >= p.config.MinWarm {
			p.retirements++
			continue
		}
		kept = append(kept, inst)
	}
	p.warm = kept
}
