package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetopt/internal/model"
)

func readMsg(t *testing.T, c *websocket.Conn) wsMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m wsMessage
	if err := c.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestPlanStream(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/plans/stream"
	c, _, err := websocket.DefaultDialer.Dial(u, http.Header{"X-Role": {"viewer"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if m := readMsg(t, c); m.Type != "connection_ack" {
		t.Fatalf("expected ack, got %+v", m)
	}
	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "bad", Payload: json.RawMessage(`{}`)})
	if m := readMsg(t, c); m.Type != "error" || m.ID != "bad" {
		t.Fatalf("expected error for missing batchKey, got %+v", m)
	}
	if m := readMsg(t, c); m.Type != "complete" {
		t.Fatalf("expected complete after error, got %+v", m)
	}
	_ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"batchKey":"day-7"}`)})
	// messages are handled in order, so the pong means the subscription is live
	_ = c.WriteJSON(wsMessage{Type: "ping"})
	if m := readMsg(t, c); m.Type != "pong" {
		t.Fatalf("expected pong, got %+v", m)
	}

	resp, err := http.Post(srv.URL+"/v1/optimize", "application/json", strings.NewReader(optimizeBody("day-7")))
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("optimize: status %d", resp.StatusCode)
	}

	var types []string
	for len(types) < 2 {
		m := readMsg(t, c)
		if m.Type != "next" || m.ID != "1" {
			t.Fatalf("unexpected message %+v", m)
		}
		var evt model.PlanEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.BatchKey != "day-7" || evt.PlanID == "" {
			t.Fatalf("unexpected event %+v", evt)
		}
		types = append(types, evt.Type)
	}
	if types[0] != model.EventPlanStarted || types[1] != model.EventPlanCompleted {
		t.Fatalf("unexpected event order %v", types)
	}

	_ = c.WriteJSON(wsMessage{Type: "complete", ID: "1"})
	if m := readMsg(t, c); m.Type != "complete" || m.ID != "1" {
		t.Fatalf("expected complete, got %+v", m)
	}
}
