package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmesh/internal/signaling"
)

// Signal types carried in the signaling payload.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

var ErrUnexpectedSignal = errors.New("unexpected signal")

// SignalPayload is the body of a signaling.Message of type signal.
type SignalPayload struct {
	Type      string                  `json:"type"`
	SDP       string                  `json:"sdp,omitempty"`
	Candidate *pion.ICECandidateInit `json:"candidate,omitempty"`
}

// Signaler is the part of signaling.Client the provider uses.
type Signaler interface {
	ID() string
	Send(to string, payload any) error
	Incoming() <-chan *signaling.Message
	Close() error
}

// DecodeSignal extracts a SignalPayload and validates that it carries
// what its type requires.
func DecodeSignal(msg *signaling.Message) (SignalPayload, error) {
	var payload SignalPayload
	if msg.Type != signaling.MessageTypeSignal {
		return payload, fmt.Errorf("%w: message type %q", ErrUnexpectedSignal, msg.Type)
	}
	if msg.From == "" {
		return payload, fmt.Errorf("%w: missing sender", ErrUnexpectedSignal)
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode signal: %w", err)
	}

	switch payload.Type {
	case SignalOffer, SignalAnswer:
		if payload.SDP == "" {
			return payload, fmt.Errorf("%w: %s without sdp", ErrUnexpectedSignal, payload.Type)
		}
	case SignalCandidate:
		if payload.Candidate == nil {
			return payload, fmt.Errorf("%w: candidate without body", ErrUnexpectedSignal)
		}
	default:
		return payload, fmt.Errorf("%w: %q", ErrUnexpectedSignal, payload.Type)
	}
	return payload, nil
}

func (s SignalPayload) description() pion.SessionDescription {
	sdpType := pion.SDPTypeOffer
	if s.Type == SignalAnswer {
		sdpType = pion.SDPTypeAnswer
	}
	return pion.SessionDescription{Type: sdpType, SDP: s.SDP}
}
