// Package main runs a demo WebSocket client for plan events: it subscribes
// to a batch, submits an optimization for it and prints what arrives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demoRequest = `{
  "batchKey": %q,
  "stops": [
    {"id": "s1", "lat": 40.7306, "lon": -73.9352, "demand": 2, "windowStart": 0, "windowEnd": 240},
    {"id": "s2", "lat": 40.7420, "lon": -73.9900, "demand": 1, "serviceDuration": 5},
    {"id": "s3", "lat": 40.7061, "lon": -74.0087, "demand": 3}
  ],
  "vehicles": [{"id": "van-1", "capacity": 10, "depotLat": 40.7128, "depotLon": -74.0060}]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	batch := fmt.Sprintf("demo-%d", time.Now().Unix())

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/stream"}
	hdr := http.Header{}
	hdr.Set("X-Role", "viewer")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]string{"batchKey": batch})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(500 * time.Millisecond)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader([]byte(fmt.Sprintf(demoRequest, batch))))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "dispatcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var plan struct {
		PlanID string `json:"planId"`
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&plan)
	_ = resp.Body.Close()
	log.Printf("plan %s status=%s (http %d)", plan.PlanID, plan.Status, resp.StatusCode)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
