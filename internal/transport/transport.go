// Package transport defines the peer connection contract the session
// registry is written against, plus an in-memory implementation for tests.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("connection closed")
	ErrNotOpen     = errors.New("connection not open")
	ErrUnknownPeer = errors.New("unknown peer")
)

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one entry in a connection's event stream. Data is set for
// EventData and Err for EventError.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Conn is a bidirectional, ordered, reliable message channel to one peer.
// Send is only valid after the EventOpen event.
type Conn interface {
	PeerID() string
	Send(data []byte) error
	// Events is closed after the connection shuts down and every queued
	// event has been delivered.
	Events() <-chan Event
	Close() error
}

// Provider creates outbound connections and surfaces inbound ones.
type Provider interface {
	ID() string
	Connect(ctx context.Context, peerID string) (Conn, error)
	Incoming() <-chan Conn
	Close() error
}
