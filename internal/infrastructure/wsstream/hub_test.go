package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/internal/domain/entity"
	"github.com/ag3nt-run/ag3nt/internal/infrastructure/eventbus"
)

func upgradeHandler(h *Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r)
	}
}

func TestHub_BroadcastsPublishedEvents(t *testing.T) {
	bus := eventbus.NewBus(zap.NewNop(), eventbus.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	hub := NewHub(bus, zap.NewNop())
	go hub.Run(ctx)

	handler := NewHandler(hub, zap.NewNop())
	srv := httptest.NewServer(upgradeHandler(handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(&entity.Event{ID: "evt-1", Type: "goal.triggered", Priority: entity.PriorityHigh})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != FrameTypeEvent || frame.Event == nil || frame.Event.ID != "evt-1" {
		t.Fatalf("expected event frame for evt-1, got %+v", frame)
	}
}

func TestHub_FilterDropsNonMatchingEventType(t *testing.T) {
	bus := eventbus.NewBus(zap.NewNop(), eventbus.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	hub := NewHub(bus, zap.NewNop())
	go hub.Run(ctx)

	handler := NewHandler(hub, zap.NewNop())
	srv := httptest.NewServer(upgradeHandler(handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?event_type=tool.result"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(&entity.Event{ID: "evt-filtered-out", Type: "goal.triggered", Priority: entity.PriorityLow})
	bus.Publish(&entity.Event{ID: "evt-matches", Type: "tool.result", Priority: entity.PriorityLow})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Event.ID != "evt-matches" {
		t.Fatalf("expected only the matching event to be forwarded, got %s", frame.Event.ID)
	}
}
