package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

type countingBuilder struct {
	n atomic.Int64
}

func (b *countingBuilder) Build(ctx context.Context) (interface{}, error) {
	b.n.Add(1)
	return "executor", nil
}

func TestPool_StartFillsMinWarm(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 3, MaxSize: 10, MaxIdleTime: time.Minute}, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Stop()

	stats := p.Stats()
	if stats.Warm != 3 {
		t.Fatalf("expected 3 warm instances, got %d", stats.Warm)
	}
}

func TestPool_CheckoutReusesWarmInstance(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 1, MaxSize: 10, MaxIdleTime: time.Minute}, nil)
	p.Start(context.Background())
	defer p.Stop()

	before := builder.n.Load()
	inst, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst == nil {
		t.Fatal("expected an instance")
	}
	if builder.n.Load() != before {
		t.Fatal("expected checkout to reuse a warm instance without building")
	}
}

func TestPool_CheckoutBuildsWhenEmpty(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 10, MaxIdleTime: time.Minute}, nil)

	inst, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst == nil || builder.n.Load() != 1 {
		t.Fatal("expected checkout to build a fresh instance")
	}
}

func TestPool_CheckoutFailsAtCapacity(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 1, MaxIdleTime: time.Minute}, nil)

	first, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = first

	_, err = p.Checkout(context.Background())
	if err == nil {
		t.Fatal("expected quota error at capacity")
	}
}

func TestPool_CheckinReturnsToWarmSet(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 10, MaxIdleTime: time.Minute, MaxTurns: 5}, nil)

	inst, _ := p.Checkout(context.Background())
	p.Checkin(inst)

	stats := p.Stats()
	if stats.Warm != 1 || stats.CheckedOut != 0 {
		t.Fatalf("expected instance back in warm set, got %+v", stats)
	}
}

func TestPool_CheckinRecyclesPastTurnLimit(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 10, MaxIdleTime: time.Minute, MaxTurns: 2}, nil)

	inst, _ := p.Checkout(context.Background())
	inst.TurnsExecuted = 3
	p.Checkin(inst)

	stats := p.Stats()
	if stats.Warm != 0 {
		t.Fatalf("expected instance past turn limit to be discarded, got %+v", stats)
	}
}

func TestPool_Discard(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 1, MaxIdleTime: time.Minute}, nil)

	inst, _ := p.Checkout(context.Background())
	p.Discard(inst)

	inst2, err := p.Checkout(context.Background())
	if err != nil || inst2 == nil {
		t.Fatalf("expected capacity freed after discard: %v", err)
	}
}

func TestPool_CheckoutIsFIFO(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 3, MaxSize: 10, MaxIdleTime: time.Minute, WarmupThreshold: 0.5}, nil)
	p.Start(context.Background())
	defer p.Stop()

	p.mu.Lock()
	oldest := p.warm[0]
	p.mu.Unlock()

	inst, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.ID != oldest.ID {
		t.Fatalf("expected FIFO handout of oldest warm entry %s, got %s", oldest.ID, inst.ID)
	}
}

func TestPool_CheckoutSkipsStaleEntry(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 10, MaxIdleTime: time.Minute, MaxAge: time.Millisecond}, nil)

	p.mu.Lock()
	p.warm = append(p.warm, &entity.AgentInstance{ID: "stale", CreatedAt: time.Now().Add(-time.Hour)})
	p.mu.Unlock()

	before := builder.n.Load()
	inst, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.ID == "stale" {
		t.Fatal("expected stale entry to be retired, not handed out")
	}
	if builder.n.Load() != before+1 {
		t.Fatal("expected a fresh build after skipping the stale entry")
	}
	if stats := p.Stats(); stats.Retirements != 1 {
		t.Fatalf("expected 1 retirement, got %d", stats.Retirements)
	}
}

func TestPool_CheckoutSkipsExhaustedEntry(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 0, MaxSize: 10, MaxIdleTime: time.Minute, MaxTurns: 2}, nil)

	p.mu.Lock()
	p.warm = append(p.warm, &entity.AgentInstance{ID: "exhausted", CreatedAt: time.Now(), TurnsExecuted: 5})
	p.mu.Unlock()

	inst, err := p.Checkout(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.ID == "exhausted" {
		t.Fatal("expected exhausted entry to be retired, not handed out")
	}
}

func TestPool_ConcurrentCheckoutTriggersOneWarmup(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 4, MaxSize: 100, MaxIdleTime: time.Minute, WarmupThreshold: 1.0}, nil)
	p.Start(context.Background())
	defer p.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Checkout(context.Background())
		}()
	}
	wg.Wait()

	stats := p.Stats()
	if stats.WarmupsStarted != 1 {
		t.Fatalf("expected exactly one warmup in flight across concurrent checkouts, got %d", stats.WarmupsStarted)
	}
}

func TestPool_TotalAcquiresEqualsHitsPlusMisses(t *testing.T) {
	builder := &countingBuilder{}
	p := New(builder, Config{MinWarm: 3, MaxSize: 100, MaxIdleTime: time.Minute}, nil)
	p.Start(context.Background())
	defer p.Stop()

	var insts []*entity.AgentInstance
	for i := 0; i < 10; i++ {
		inst, err := p.Checkout(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		insts = append(insts, inst)
	}
	for _, inst := range insts {
		p.Checkin(inst)
	}

	stats := p.Stats()
	if stats.Acquires != stats.Hits+stats.Misses {
		t.Fatalf("total_acquires(%d) != hits(%d)+misses(%d)", stats.Acquires, stats.Hits, stats.Misses)
	}
}
