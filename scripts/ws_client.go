// Package main runs a demo WebSocket client for the greedy trace stream.
//
//	go run ./scripts [instance.json]
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

const demoInstance = `{
  "optimize": false,
  "contractors": [
    {"id": "A", "home": {"x": 0, "y": 0}, "ratePerMinute": 0.1},
    {"id": "B", "home": {"x": 90, "y": 90}, "ratePerMinute": 0.1}
  ],
  "customers": [
    {"id": "c1", "location": {"x": 50, "y": 50}, "kind": "cleaning", "durationMinutes": 30},
    {"id": "c2", "location": {"x": 0, "y": 40}, "kind": "repair", "durationMinutes": 90},
    {"id": "c3", "location": {"x": 80, "y": 10}, "kind": "installation", "durationMinutes": 240}
  ]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	doc := []byte(demoInstance)
	if len(os.Args) > 1 {
		b, err := os.ReadFile(os.Args[1])
		if err != nil {
			log.Fatal(err)
		}
		doc = b
	}

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/trace"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "start", ID: "1", Payload: doc}); err != nil {
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
			if m.Type == "complete" {
				return
			}
		}
	}()

	select {
	case <-time.After(10 * time.Second):
		log.Fatal("trace did not complete")
	case <-done:
	}

	// Same document through the planning endpoint for comparison
	resp, err := http.Post(base+"/v1/plans", "application/json", bytes.NewReader(doc))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var plan struct {
		RunID  string `json:"runId"`
		Chosen string `json:"chosen"`
		Greedy struct {
			Status string  `json:"status"`
			Profit float64 `json:"profit"`
		} `json:"greedy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		log.Fatal(err)
	}
	log.Printf("run %s: greedy %s, profit %.2f, chosen %s", plan.RunID, plan.Greedy.Status, plan.Greedy.Profit, plan.Chosen)
}
