// Package signaling relays WebRTC offers, answers and ICE candidates
// between peers identified by hub-assigned ids.
package signaling

import (
	"log/slog"

	"github.com/google/uuid"
)

type relay struct {
	from *member
	msg  *Message
}

// Hub owns every connected member. A single goroutine (Run) reads and
// writes the member table.
type Hub struct {
	members map[string]*member

	register   chan *member
	unregister chan *member
	relay      chan relay
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		members:    make(map[string]*member),
		register:   make(chan *member),
		unregister: make(chan *member),
		relay:      make(chan relay),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and relays until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case m := <-h.register:
			m.id = uuid.NewString()
			h.members[m.id] = m
			h.logger.Info("Peer connected", "peer", m.id, "remote", m.conn.RemoteAddr().String())
			m.send <- &Message{Type: MessageTypeID, PeerID: m.id}

		case m := <-h.unregister:
			if _, ok := h.members[m.id]; !ok {
				continue
			}
			delete(h.members, m.id)
			close(m.send)
			h.logger.Info("Peer disconnected", "peer", m.id)

		case r := <-h.relay:
			h.forward(r)

		case <-h.done:
			for id, m := range h.members {
				delete(h.members, id)
				close(m.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) forward(r relay) {
	if r.msg.Type != MessageTypeSignal {
		h.logger.Debug("Unknown message type", "type", r.msg.Type, "peer", r.from.id)
		r.from.trySend(&Message{Type: MessageTypeError, Error: "unknown message type"})
		return
	}

	target, ok := h.members[r.msg.To]
	if !ok {
		h.logger.Debug("Signal for unknown peer", "from", r.from.id, "to", r.msg.To)
		r.from.trySend(&Message{Type: MessageTypeError, To: r.msg.To, Error: "peer not connected"})
		return
	}

	h.logger.Debug("Relaying signal", "from", r.from.id, "to", target.id)
	target.trySend(&Message{
		Type:    MessageTypeSignal,
		From:    r.from.id,
		To:      target.id,
		Payload: r.msg.Payload,
	})
}
