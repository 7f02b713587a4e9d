package signaling

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// member is the hub side of one websocket connection.
type member struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan *Message
}

// Serve registers conn with the hub and runs its pumps. It returns once
// the connection is closed.
func (h *Hub) Serve(conn *websocket.Conn) {
	m := &member{
		hub:  h,
		conn: conn,
		send: make(chan *Message, sendBuffer),
	}

	select {
	case h.register <- m:
	case <-h.done:
		conn.Close()
		return
	}

	go m.writePump()
	m.readPump()
}

// trySend queues msg without blocking the hub. A member whose buffer is
// full is too slow to keep and gets its message dropped.
func (m *member) trySend(msg *Message) {
	select {
	case m.send <- msg:
	default:
		m.hub.logger.Warn("Dropping message for slow peer", "peer", m.id, "type", msg.Type)
	}
}

// readPump is the only reader of the connection.
func (m *member) readPump() {
	defer func() {
		select {
		case m.hub.unregister <- m:
		case <-m.hub.done:
		}
		m.conn.Close()
	}()

	m.conn.SetReadLimit(maxMessageSize)
	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		m.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.hub.logger.Debug("Read failed", "peer", m.id, "error", err)
			}
			return
		}

		select {
		case m.hub.relay <- relay{from: m, msg: &msg}:
		case <-m.hub.done:
			return
		}
	}
}

// writePump is the only writer of the connection.
func (m *member) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-m.send:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				m.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := m.conn.WriteJSON(msg); err != nil {
				m.hub.logger.Debug("Write failed", "peer", m.id, "error", err)
				return
			}

		case <-ticker.C:
			m.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
