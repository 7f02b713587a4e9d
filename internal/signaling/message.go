package signaling

import "encoding/json"

// Message is every frame exchanged with the signaling hub, in both
// directions.
type Message struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	// MessageTypeID is sent by the hub once, right after connecting, with
	// the peer id it assigned.
	MessageTypeID     = "id"
	MessageTypeSignal = "signal"
	MessageTypeError  = "error"
)
