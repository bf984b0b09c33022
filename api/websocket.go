package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"eidolon/codec"
)

// TransportWebSocket labels WebSocket subscribers in stats.
const TransportWebSocket = "websocket"

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

var (
	errClientClosed = errors.New("websocket client closed")
	errQueueFull    = errors.New("websocket send queue full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are usually served from a different origin than the agent.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one WebSocket subscriber. A single writer goroutine owns the
// connection's write side; Send only enqueues.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	remote    string
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		remote: conn.RemoteAddr().String(),
	}
}

// Send queues payload without blocking. A full queue drops the payload.
func (c *wsClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	msg := append([]byte(nil), payload...)
	select {
	case c.send <- msg:
		return nil
	default:
		return errQueueFull
	}
}

func (c *wsClient) Transport() string { return TransportWebSocket }

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// Purpose: Upgrade a request to a WebSocket snapshot stream.
// Key aspects: Registers the client, queues an initial snapshot, then serves
// "ping" and "snapshot" text commands until the peer goes away.
// Upstream: HTTP mux at {ctx}/ws/metrics.
// Downstream: subscriber.Registry, stats.Tracker, codec.JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Printf("api: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	client := newWSClient(conn, s.opts.ClientBuffer)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		client.close()
		return
	}
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	s.opts.Registry.Add(client)
	if s.opts.Tracker != nil {
		s.opts.Tracker.ConnectionOpened(TransportWebSocket)
	}
	go client.writeLoop()

	defer func() {
		s.opts.Registry.Remove(client)
		client.close()
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		if s.opts.Tracker != nil {
			s.opts.Tracker.ConnectionClosed(TransportWebSocket)
		}
	}()

	s.sendSnapshot(client)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("api: websocket %s: %v", client.remote, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		switch strings.ToLower(strings.TrimSpace(string(msg))) {
		case "ping":
			_ = client.Send([]byte("pong"))
		case "snapshot":
			s.sendSnapshot(client)
		}
	}
}

func (s *Server) sendSnapshot(c *wsClient) {
	payload, err := codec.JSON{}.Encode(s.source.Capture())
	if err != nil {
		s.logger.Printf("api: websocket snapshot encode: %v", err)
		return
	}
	if err := c.Send(payload); err != nil && s.opts.Tracker != nil {
		s.opts.Tracker.PayloadDropped(TransportWebSocket)
	}
}
