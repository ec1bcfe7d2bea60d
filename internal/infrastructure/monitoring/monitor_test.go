package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMonitorRecordsGoalExecutions(t *testing.T) {
	m := NewMonitor()
	m.RecordGoalExecution("restart-thing", true, 50*time.Millisecond)
	m.RecordGoalExecution("restart-thing", false, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `ag3nt_goal_executions_total{goal_id="restart-thing",outcome="success"} 1`) {
		t.Fatalf("expected a success counter sample, got:\n%s", body)
	}
	if !strings.Contains(body, `ag3nt_goal_executions_total{goal_id="restart-thing",outcome="failure"} 1`) {
		t.Fatalf("expected a failure counter sample, got:\n%s", body)
	}
}

func TestMonitorNilReceiverIsSafe(t *testing.T) {
	var m *Monitor
	m.RecordGoalExecution("g", true, time.Millisecond)
	m.RecordToolCall("shell", nil)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.SetPoolGauges(1, 2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != 503 {
		t.Fatalf("expected 503 from a nil monitor's handler, got %d", rec.Code)
	}
}

func TestMonitorRecordsToolCallErrors(t *testing.T) {
	m := NewMonitor()
	m.RecordToolCall("read_file", nil)
	m.RecordToolCall("shell", errTest)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `ag3nt_tool_calls_total{tool="shell"} 1`) {
		t.Fatalf("expected a tool call sample for shell, got:\n%s", body)
	}
	if !strings.Contains(body, `ag3nt_tool_errors_total{tool="shell"} 1`) {
		t.Fatalf("expected a tool error sample for shell, got:\n%s", body)
	}
}

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
