// Package main provides the WebSocket event channel for the desktop UI.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linchiayu/moneta/internal/netmon"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only the local UI shell may connect
		return strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

// Event types pushed to the UI. With these, the UI never polls: sync status
// and network state arrive as they change.
const (
	EventSyncStatus    = "sync.status"
	EventNetworkStatus = "network.status"
	EventStoreChanged  = "store.changed"
)

// WSClient represents one connected UI shell.
type WSClient struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *WSHub
	monitor *netmon.Monitor
}

// WSHub maintains connected clients and broadcasts envelopes to them.
type WSHub struct {
	mu      sync.Mutex
	clients map[*WSClient]bool
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]bool)}
}

// Broadcast sends an envelope to every connected client. A client whose
// send buffer is full is dropped rather than blocking the broadcaster.
func (h *WSHub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[WS] Failed to marshal envelope: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// add registers a client with the hub.
func (h *WSHub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client connected (total: %d)", n)
}

// remove unregisters a client.
func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client disconnected (total: %d)", n)
}

// readPump consumes messages from the UI shell. The shell reports platform
// connectivity transitions here as {"action":"network","online":bool}.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}

		var msg struct {
			Action string `json:"action"`
			Online bool   `json:"online"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WS] Invalid message format: %v", err)
			continue
		}

		if msg.Action == "network" {
			c.monitor.SetOnline(msg.Online)
		}
	}
}

// writePump pumps envelopes to the connection and keeps it alive with pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades connections and starts the client pumps.
func HandleWebSocket(hub *WSHub, monitor *netmon.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Failed to upgrade: %v", err)
			return
		}

		client := &WSClient{
			conn:    conn,
			send:    make(chan []byte, 256),
			hub:     hub,
			monitor: monitor,
		}
		hub.add(client)

		go client.writePump()
		go client.readPump()
	}
}
