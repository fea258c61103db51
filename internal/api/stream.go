package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetopt/internal/model"
)

// Plan event stream over WebSocket, using graphql-transport-ws style
// framing: connection_init/connection_ack, subscribe/next/complete and
// ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const streamKeepalive = 20 * time.Second

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	BatchKey string `json:"batchKey"`
}

// PlanStreamHandler handles /v1/plans/stream.
func (s *Server) PlanStreamHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.getPrincipal(r); err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		batchKey string
		ch       chan model.PlanEvent
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		for id, s0 := range subs {
			s.Broker.Unsubscribe(s0.batchKey, s0.ch)
			delete(subs, id)
		}
		wg.Wait()
	}()

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, msg string) {
		payload, _ := json.Marshal(map[string]string{"message": msg})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
		_ = write(wsMessage{Type: "complete", ID: id})
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(3 * streamKeepalive))
	acked := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(3 * streamKeepalive))
		switch msg.Type {
		case "connection_init":
			if acked {
				continue
			}
			acked = true
			_ = write(wsMessage{Type: "connection_ack"})
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(streamKeepalive)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if !acked {
				fail(msg.ID, "connection_init required")
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				fail(msg.ID, "subscription id missing or already in use")
				continue
			}
			var pl subscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.BatchKey == "" {
				fail(msg.ID, "batchKey required")
				continue
			}
			ch := s.Broker.Subscribe(pl.BatchKey)
			subs[msg.ID] = sub{batchKey: pl.BatchKey, ch: ch}
			wg.Add(1)
			go func(id string, c chan model.PlanEvent) {
				defer wg.Done()
				for evt := range c {
					payload, _ := json.Marshal(evt)
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.batchKey, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
}
