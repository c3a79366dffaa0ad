// Package main runs a demo WebSocket client for device parking events.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	deviceID := os.Getenv("DEVICE_ID")
	if deviceID == "" {
		deviceID = "demo-device"
	}

	// Connect to the device stream first so we catch the events.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/devices/" + deviceID + "/stream"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s", msg)
		}
	}()

	// Simulate the device parking and then driving off.
	park := fmt.Sprintf(`{"event":{"type":"ignitionOff"},"device":{"uniqueId":%q},"position":{"latitude":37.76,"longitude":-122.42}}`, deviceID)
	postJSON(base+"/v1/traccar/webhook", park)
	time.Sleep(time.Second)
	move := fmt.Sprintf(`{"event":{"type":"deviceMoving"},"device":{"uniqueId":%q}}`, deviceID)
	postJSON(base+"/v1/traccar/webhook", move)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func postJSON(endpoint, body string) {
	req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("post %s: %v", endpoint, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	log.Printf("POST %s -> %s", endpoint, resp.Status)
}
