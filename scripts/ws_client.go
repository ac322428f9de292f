// Package main runs a demo WebSocket client for the dispatch live feed.
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

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to every dispatch event
	pl, _ := json.Marshal(map[string]any{"eventType": "*"})
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

	// Ingest an item and trigger an optimization to produce feed traffic
	time.Sleep(500 * time.Millisecond)
	ev := []byte(`{"type":"goods_in","item":{"id":"demo-1","name":"demo pallet","weight":120,"priority":"High"},"location":"dock-a"}`)
	evReq, _ := http.NewRequest(http.MethodPost, base+"/v1/events", bytes.NewReader(ev))
	evReq.Header.Set("Content-Type", "application/json")
	_, _ = http.DefaultClient.Do(evReq)

	optReq, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader([]byte("{}")))
	optReq.Header.Set("Content-Type", "application/json")
	optReq.Header.Set("X-Role", "admin")
	_, _ = http.DefaultClient.Do(optReq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
