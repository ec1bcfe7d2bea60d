package service

import (
	"testing"
	"time"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"go.uber.org/zap"
)

// === CostGuard Tests ===

func TestCostGuard_TokenBudget(t *testing.T) {
	logger := zap.NewNop()
	cg := NewCostGuard(1000, 0, logger)

	if err := cg.AddTokens(500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cg.AddTokens(600); err == nil {
		t.Fatal("expected budget exceeded error from AddTokens")
	}
}

func TestCostGuard_NoBudget(t *testing.T) {
	logger := zap.NewNop()
	cg := NewCostGuard(0, 0, logger) // budget disabled

	if err := cg.AddTokens(999999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cg.CheckBudget(); err != nil {
		t.Fatalf("expected no error when budget disabled: %v", err)
	}
}

func TestCostGuard_TimeoutBudget(t *testing.T) {
	logger := zap.NewNop()
	cg := NewCostGuard(0, 10*time.Millisecond, logger)

	if err := cg.CheckBudget(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(15 * time.Millisecond)
	if err := cg.CheckBudget(); err == nil {
		t.Fatal("expected time budget exceeded error")
	}
}

// === ContextGuard Tests ===

func TestContextGuard_BelowThreshold(t *testing.T) {
	logger := zap.NewNop()
	cg := NewContextGuard(10000, 0.7, 0.85, logger)

	messages := []entity.Message{
		{Role: entity.RoleSystem, Content: "You are helpful."},
		{Role: entity.RoleUser, Content: "Hello"},
	}

	result := cg.Check(messages)
	if result.NeedCompaction {
		t.Fatal("should not need compaction for small context")
	}
	if result.Ratio > 0.1 {
		t.Fatalf("ratio too high: %f", result.Ratio)
	}
}

func TestContextGuard_HardCompaction(t *testing.T) {
	logger := zap.NewNop()
	// Very small window to trigger compaction easily
	cg := NewContextGuard(100, 0.7, 0.85, logger)

	messages := []entity.Message{
		{Role: entity.RoleSystem, Content: string(make([]byte, 200))},
		{Role: entity.RoleUser, Content: string(make([]byte, 200))},
	}

	result := cg.Check(messages)
	if !result.NeedCompaction {
		t.Fatalf("should need compaction, ratio: %f", result.Ratio)
	}
}

func TestContextGuard_ToolCallOverhead(t *testing.T) {
	logger := zap.NewNop()
	cg := NewContextGuard(1000, 0.7, 0.85, logger)

	messages := []entity.Message{
		{
			Role:    entity.RoleAssistant,
			Content: "let me check",
			ToolCalls: []entity.ToolCall{
				{ID: "tc1", Name: "read_file_with_a_long_tool_name"},
			},
		},
	}

	result := cg.Check(messages)
	if result.EstimatedTokens < 50 {
		t.Fatalf("expected tool call overhead to add significant tokens, got: %d", result.EstimatedTokens)
	}
}

// === LoopDetector Tests ===

func TestLoopDetector_NoLoop(t *testing.T) {
	logger := zap.NewNop()
	ld := NewLoopDetector(5, 3, 8, logger)

	if ld.Record("read_file") != "" {
		t.Fatal("should not detect loop on first call")
	}
	if ld.Record("write_file") != "" {
		t.Fatal("should not detect loop on different tool")
	}
	if ld.Record("search") != "" {
		t.Fatal("should not detect loop on different tool")
	}
}

func TestLoopDetector_DetectsExactLoop(t *testing.T) {
	logger := zap.NewNop()
	ld := NewLoopDetector(5, 3, 8, logger)

	ld.Record("read_file", "a")
	ld.Record("read_file", "a")
	if ld.Record("read_file", "a") == "" {
		t.Fatal("should detect loop after 3 identical calls")
	}
}

func TestLoopDetector_SlidingWindow(t *testing.T) {
	logger := zap.NewNop()
	ld := NewLoopDetector(3, 2, 8, logger) // window=3, threshold=2

	ld.Record("read_file")
	ld.Record("write_file")
	ld.Record("search")

	// read_file slid out of the window; one more shouldn't trigger
	if ld.Record("read_file") != "" {
		t.Fatal("should not trigger — read_file only once in current window")
	}
}

func TestLoopDetector_NameThreshold(t *testing.T) {
	logger := zap.NewNop()
	ld := NewLoopDetector(10, 100, 3, logger)

	ld.RecordName("bash")
	ld.RecordName("bash")
	if ld.RecordName("bash") == "" {
		t.Fatal("should warn once the same tool dominates the window")
	}
}

func TestLoopDetector_Reset(t *testing.T) {
	logger := zap.NewNop()
	ld := NewLoopDetector(5, 2, 8, logger)

	ld.Record("read_file")
	ld.Record("read_file")
	ld.Reset()

	if ld.Record("read_file") != "" {
		t.Fatal("expected clean state after Reset")
	}
}
