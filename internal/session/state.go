package session

import (
	"github.com/BioHazard786/warpmesh/internal/crypto"
	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/protocol"
	"github.com/BioHazard786/warpmesh/internal/transport"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingKey
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingKey:
		return "awaiting-key"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerInfo is a snapshot of one session for display.
type PeerInfo struct {
	ID        string
	State     State
	Initiator bool
	Queued    int
}

type peerSession struct {
	id        string
	conn      transport.Conn
	state     State
	key       *crypto.Key
	initiator bool

	// attempt increments whenever a new connection is started so that a
	// dial finishing after it was superseded can be discarded.
	attempt int

	messages []protocol.Message
	files    []filetransfer.File
}

// active reports whether a connection is being set up or is usable.
func (s *peerSession) active() bool {
	switch s.state {
	case StateConnecting, StateAwaitingKey, StateReady:
		return true
	}
	return false
}

func (s *peerSession) info() PeerInfo {
	return PeerInfo{
		ID:        s.id,
		State:     s.state,
		Initiator: s.initiator,
		Queued:    len(s.messages) + len(s.files),
	}
}
