// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsFlushInterval bounds how often coalesced job updates go out. Snapshot
	// jobs emit progress at file-chunk granularity, far faster than any UI
	// can render.
	wsFlushInterval = 150 * time.Millisecond

	wsSendBuffer    = 64
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsMaxInboundLen = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS enforcement happens in the middleware; the upgrade itself
		// accepts any origin.
		return true
	},
}

// WSMessage is one frame sent to subscribers.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSClient is one connected progress subscriber.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
	once sync.Once
}

// WSHub fans job updates out to websocket subscribers. Between flushes only
// the newest frame per job is kept, so a burst of progress ticks costs each
// subscriber at most one frame per job per interval. Subscribers whose
// outbound queue fills up anyway are disconnected rather than allowed to
// stall the downloads they are watching.
type WSHub struct {
	mu      sync.Mutex
	clients map[*WSClient]struct{}
	pending map[string][]byte // job ID -> newest encoded frame
	order   []string          // job IDs in first-seen order
}

// NewWSHub creates an empty hub. Call Run to start the flush loop.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*WSClient]struct{}),
		pending: make(map[string][]byte),
	}
}

// Run delivers coalesced job updates on a fixed cadence. It never returns;
// the hub lives as long as the server process.
func (h *WSHub) Run() {
	ticker := time.NewTicker(wsFlushInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.flush()
	}
}

func (h *WSHub) flush() {
	h.mu.Lock()
	if len(h.order) == 0 {
		h.mu.Unlock()
		return
	}
	frames := make([][]byte, 0, len(h.order))
	for _, id := range h.order {
		frames = append(frames, h.pending[id])
		delete(h.pending, id)
	}
	h.order = h.order[:0]
	h.mu.Unlock()

	for _, frame := range frames {
		h.deliver(frame)
	}
}

// deliver sends one frame to every subscriber, dropping subscribers whose
// queue is full.
func (h *WSHub) deliver(frame []byte) {
	h.mu.Lock()
	var stalled []*WSClient
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			delete(h.clients, c)
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		log.Printf("[ws] dropping stalled client")
		c.close()
	}
}

// Broadcast encodes a frame and sends it to all subscribers immediately,
// bypassing coalescing. Used for events that are not per-job state.
func (h *WSHub) Broadcast(msgType string, data any) {
	frame, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("[ws] marshal %s frame: %v", msgType, err)
		return
	}
	h.deliver(frame)
}

// BroadcastJob queues a job state update. The newest update per job wins;
// the flush loop delivers it within one interval.
func (h *WSHub) BroadcastJob(job *Job) {
	frame, err := json.Marshal(WSMessage{Type: "job_update", Data: job})
	if err != nil {
		log.Printf("[ws] marshal job_update frame: %v", err)
		return
	}
	h.mu.Lock()
	if _, ok := h.pending[job.ID]; !ok {
		h.order = append(h.order, job.ID)
	}
	h.pending[job.ID] = frame
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[ws] client connected (%d total)", n)
}

func (h *WSHub) remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.close()
		log.Printf("[ws] client disconnected (%d total)", n)
	}
}

// close shuts the outbound queue exactly once; the write loop then sends a
// close frame and tears down the connection.
func (c *WSClient) close() {
	c.once.Do(func() { close(c.send) })
}

// handleWebSocket upgrades the connection and registers a subscriber.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		hub:  s.wsHub,
	}
	s.wsHub.add(client)

	go client.writeLoop()
	go client.readLoop()

	s.sendInitialState(client)
}

// sendInitialState pushes the current job list to a new subscriber so it can
// render without waiting for the next update.
func (s *Server) sendInitialState(client *WSClient) {
	frame, err := json.Marshal(WSMessage{
		Type: "init",
		Data: map[string]any{"jobs": s.jobs.ListJobs()},
	})
	if err != nil {
		return
	}

	// Membership under the lock guarantees the queue has not been closed.
	h := s.wsHub
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		select {
		case client.send <- frame:
		default:
		}
	}
}

// writeLoop drains the subscriber's queue onto the wire and keeps the
// connection alive with pings.
func (c *WSClient) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound messages and keeps the read deadline fresh via
// pongs. Subscribers are listen-only; any read error unregisters them.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxInboundLen)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
	}
}
