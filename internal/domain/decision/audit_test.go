package decision

import (
	"testing"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
)

func sampleDecision() entity.Decision {
	return entity.Decision{
		Type:       entity.DecisionAct,
		GoalID:     "test-goal",
		GoalName:   "Test Goal",
		Confidence: entity.ConfidenceScore{Score: 0.8, SampleCount: 10, SuccessRate: 0.8},
		Reason:     "Test",
	}
}

func TestAuditLog_RecordAndGetRecent(t *testing.T) {
	log := NewAuditLog(0)
	log.Record(sampleDecision())
	log.Record(sampleDecision())

	recent := log.GetRecent(10)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(recent))
	}
}

func TestAuditLog_GetByGoal(t *testing.T) {
	log := NewAuditLog(0)
	log.Record(sampleDecision())

	results := log.GetByGoal("test-goal")
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestAuditLog_GetByType(t *testing.T) {
	log := NewAuditLog(0)
	log.Record(sampleDecision())

	results := log.GetByType(entity.DecisionAct)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestAuditLog_GetStats(t *testing.T) {
	log := NewAuditLog(0)
	log.Record(sampleDecision())

	stats := log.GetStats()
	if stats["total"] != 1 {
		t.Fatalf("expected total 1, got %v", stats["total"])
	}
	if stats["act_rate"] != 1.0 {
		t.Fatalf("expected act_rate 1.0, got %v", stats["act_rate"])
	}
}

func TestAuditLog_MaxEntriesTrim(t *testing.T) {
	log := NewAuditLog(5)

	for i := 0; i < 10; i++ {
		d := sampleDecision()
		d.Reason = "entry"
		log.Record(d)
	}

	if len(log.entries) != 5 {
		t.Fatalf("expected log trimmed to 5 entries, got %d", len(log.entries))
	}
}

func TestAuditLog_RecentIsMostRecentFirst(t *testing.T) {
	log := NewAuditLog(0)
	first := sampleDecision()
	first.GoalID = "goal-1"
	second := sampleDecision()
	second.GoalID = "goal-2"

	log.Record(first)
	log.Record(second)

	recent := log.GetRecent(10)
	if recent[0].GoalID != "goal-2" {
		t.Fatalf("expected most recent decision first, got %q", recent[0].GoalID)
	}
}
