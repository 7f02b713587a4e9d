package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/transport"
)

type sent struct {
	to      string
	payload SignalPayload
}

type fakeSignaler struct {
	id       string
	incoming chan *signaling.Message

	mu     sync.Mutex
	sent   []sent
	closed bool
}

func newFakeSignaler(id string) *fakeSignaler {
	return &fakeSignaler{id: id, incoming: make(chan *signaling.Message, 16)}
}

func (f *fakeSignaler) ID() string { return f.id }

func (f *fakeSignaler) Send(to string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, payload: payload.(SignalPayload)})
	return nil
}

func (f *fakeSignaler) Incoming() <-chan *signaling.Message { return f.incoming }

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSignaler) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func signalMessage(t *testing.T, from string, payload SignalPayload) *signaling.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return &signaling.Message{Type: signaling.MessageTypeSignal, From: from, Payload: data}
}

func TestDecodeSignal(t *testing.T) {
	candidate := &pion.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	valid := []SignalPayload{
		{Type: SignalOffer, SDP: "v=0"},
		{Type: SignalAnswer, SDP: "v=0"},
		{Type: SignalCandidate, Candidate: candidate},
	}
	for _, payload := range valid {
		got, err := DecodeSignal(signalMessage(t, "bob", payload))
		if err != nil {
			t.Errorf("DecodeSignal(%s) failed: %v", payload.Type, err)
			continue
		}
		if got.Type != payload.Type {
			t.Errorf("Type = %q, want %q", got.Type, payload.Type)
		}
	}

	invalid := []*signaling.Message{
		signalMessage(t, "bob", SignalPayload{Type: SignalOffer}),
		signalMessage(t, "bob", SignalPayload{Type: SignalCandidate}),
		signalMessage(t, "bob", SignalPayload{Type: "renegotiate"}),
		signalMessage(t, "", SignalPayload{Type: SignalOffer, SDP: "v=0"}),
		{Type: signaling.MessageTypeError, From: "bob"},
	}
	for i, msg := range invalid {
		if _, err := DecodeSignal(msg); !errors.Is(err, ErrUnexpectedSignal) {
			t.Errorf("case %d: expected ErrUnexpectedSignal, got %v", i, err)
		}
	}
}

func TestICEConfiguration(t *testing.T) {
	never := func() bool { return false }
	always := func() bool { return true }

	cfg := &config.Config{STUNServer: config.DefaultSTUN}
	ice := ICEConfiguration(cfg, always)
	if len(ice.ICEServers) != 1 {
		t.Fatalf("Expected only STUN, got %d servers", len(ice.ICEServers))
	}
	if ice.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Error("Relay policy requires a TURN server")
	}

	cfg.TURNServer = "turn.example.com"
	cfg.TURNUser, cfg.TURNPass = "user", "pass"
	ice = ICEConfiguration(cfg, never)
	if len(ice.ICEServers) != 2 || ice.ICEServers[1].Username != "user" {
		t.Fatalf("Unexpected ICE servers %+v", ice.ICEServers)
	}
	if ice.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Error("Expected all candidates without relay hint")
	}

	if ICEConfiguration(cfg, always).ICETransportPolicy != pion.ICETransportPolicyRelay {
		t.Error("Expected relay policy when detection fires")
	}
	cfg.ForceRelay = true
	if ICEConfiguration(cfg, never).ICETransportPolicy != pion.ICETransportPolicyRelay {
		t.Error("Expected relay policy when forced")
	}
}

func TestConnectSendsOfferFirst(t *testing.T) {
	signaler := newFakeSignaler("alice")
	p := New(signaler, pion.Configuration{}, nil)
	defer p.Close()

	c, err := p.Connect(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.PeerID() != "bob" {
		t.Errorf("PeerID = %q", c.PeerID())
	}

	msgs := signaler.snapshot()
	if len(msgs) == 0 {
		t.Fatal("Expected an offer to be signalled")
	}
	if msgs[0].to != "bob" || msgs[0].payload.Type != SignalOffer || msgs[0].payload.SDP == "" {
		t.Errorf("First signal should be the offer, got %+v", msgs[0])
	}

	if err := c.Send([]byte("early")); !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen before the channel opens, got %v", err)
	}
}

func TestConnectRejectsSelfAndClosed(t *testing.T) {
	signaler := newFakeSignaler("alice")
	p := New(signaler, pion.Configuration{}, nil)

	if _, err := p.Connect(context.Background(), "alice"); !errors.Is(err, transport.ErrUnknownPeer) {
		t.Errorf("Expected ErrUnknownPeer for self, got %v", err)
	}

	p.Close()
	if _, err := p.Connect(context.Background(), "bob"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	signaler.mu.Lock()
	closed := signaler.closed
	signaler.mu.Unlock()
	if !closed {
		t.Error("Close should close the signaler")
	}
}

func TestInboundOfferIsAnswered(t *testing.T) {
	signaler := newFakeSignaler("bob")
	p := New(signaler, pion.Configuration{}, nil)
	defer p.Close()

	remote, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	defer remote.Close()
	if _, err := createDataChannel(remote); err != nil {
		t.Fatalf("createDataChannel failed: %v", err)
	}
	offer, err := createOffer(remote)
	if err != nil {
		t.Fatalf("createOffer failed: %v", err)
	}

	signaler.incoming <- signalMessage(t, "alice", SignalPayload{Type: SignalOffer, SDP: offer.SDP})

	select {
	case c := <-p.Incoming():
		if c.PeerID() != "alice" {
			t.Errorf("PeerID = %q", c.PeerID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbound connection")
	}

	msgs := signaler.snapshot()
	if len(msgs) == 0 || msgs[0].payload.Type != SignalAnswer || msgs[0].to != "alice" {
		t.Fatalf("Expected an answer to alice first, got %+v", msgs)
	}
}

func TestCandidateBeforeAnswerIsBuffered(t *testing.T) {
	signaler := newFakeSignaler("alice")
	p := New(signaler, pion.Configuration{}, nil)
	defer p.Close()

	if _, err := p.Connect(context.Background(), "bob"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c := p.lookup("bob")

	candidate := pion.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.2 5000 typ host"}
	if err := c.addCandidate(candidate); err != nil {
		t.Fatalf("addCandidate failed: %v", err)
	}

	c.mu.Lock()
	buffered := len(c.remotePending)
	c.mu.Unlock()
	if buffered != 1 {
		t.Errorf("Expected candidate to wait for the remote description, buffered=%d", buffered)
	}
}

func TestSendWindowWakesEveryWaiter(t *testing.T) {
	w := newSendWindow()
	var buffered atomic.Uint64
	buffered.Store(HighWaterMark)
	done := make(chan struct{})

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- w.wait(buffered.Load, done, 5*time.Second) }()
	}
	time.Sleep(20 * time.Millisecond)

	buffered.Store(LowWaterMark - 1)
	w.drained()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d was not woken by a single drain", i)
		}
	}
}

func TestSendWindowClosedAndTimeout(t *testing.T) {
	w := newSendWindow()
	full := func() uint64 { return HighWaterMark }

	done := make(chan struct{})
	close(done)
	if err := w.wait(full, done, time.Second); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	if err := w.wait(full, make(chan struct{}), 10*time.Millisecond); !errors.Is(err, errWindowTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}

	if err := w.wait(func() uint64 { return 0 }, nil, time.Second); err != nil {
		t.Errorf("Expected immediate return with room in the buffer, got %v", err)
	}
}
