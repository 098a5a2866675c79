package scribe

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	conn     *websocket.Conn
	clientID string
	send     chan []byte
	scribe   *Scribe

	mu     sync.Mutex
	closed bool
}

func (s *Scribe) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	// Validate client ID
	if _, err := uuid.Parse(clientID); err != nil {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		conn:     conn,
		clientID: clientID,
		send:     make(chan []byte, 256),
		scribe:   s,
	}

	s.registerSubscriber(clientID, wsConn)

	go wsConn.writePump()
	go wsConn.readPump()
}

func (s *Scribe) registerSubscriber(clientID string, wsConn *wsConnection) {
	s.subMu.Lock()
	s.subscribers[clientID] = append(s.subscribers[clientID], wsConn)
	count := s.countLocked()
	s.subMu.Unlock()

	s.metrics.SetSubscribers(count)
	slog.Info("Subscriber connected", "clientID", clientID)
}

func (s *Scribe) unregisterSubscriber(clientID string, wsConn *wsConnection) {
	s.subMu.Lock()
	connections := s.subscribers[clientID]
	for i, conn := range connections {
		if conn == wsConn {
			connections = append(connections[:i], connections[i+1:]...)
			break
		}
	}
	if len(connections) == 0 {
		delete(s.subscribers, clientID)
	} else {
		s.subscribers[clientID] = connections
	}
	count := s.countLocked()
	s.subMu.Unlock()

	s.metrics.SetSubscribers(count)
	wsConn.close()
}

// broadcast queues data for every subscriber of clientID. Slow subscribers
// drop messages instead of stalling the worker.
func (s *Scribe) broadcast(clientID string, data []byte) {
	s.subMu.Lock()
	connections := append([]*wsConnection(nil), s.subscribers[clientID]...)
	s.subMu.Unlock()

	if len(connections) == 0 {
		slog.Debug("No subscribers found for client", "clientID", clientID)
		return
	}

	for i, conn := range connections {
		if conn.trySend(data) {
			slog.Debug("Sent message to subscriber",
				"clientID", clientID,
				"connectionIndex", i)
		} else {
			slog.Warn("Failed to send to subscriber - channel full",
				"clientID", clientID,
				"connectionIndex", i)
		}
	}
}

func (s *Scribe) subscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.countLocked()
}

func (s *Scribe) countLocked() int {
	n := 0
	for _, connections := range s.subscribers {
		n += len(connections)
	}
	return n
}

func (s *Scribe) closeSubscribers() {
	s.subMu.Lock()
	var all []*wsConnection
	for _, connections := range s.subscribers {
		all = append(all, connections...)
	}
	s.subMu.Unlock()

	for _, conn := range all {
		conn.close()
	}
}

func (c *wsConnection) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write pump, which sends a close frame and closes the socket.
func (c *wsConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.scribe.unregisterSubscriber(c.clientID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
