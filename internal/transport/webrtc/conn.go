package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmesh/internal/transport"
)

// Backpressure thresholds on the data channel send buffer.
const (
	HighWaterMark = 2 * 1024 * 1024
	LowWaterMark  = 512 * 1024
	SendTimeout   = 60 * time.Second
)

// conn is one PeerConnection carrying a single ordered data channel.
type conn struct {
	peerID   string
	provider *Provider
	pc       *pion.PeerConnection
	events   *transport.EventQueue
	logger   *slog.Logger
	window   *sendWindow
	done     chan struct{}

	mu            sync.Mutex
	dc            *pion.DataChannel
	closed        bool
	remoteSet     bool
	remotePending []pion.ICECandidateInit
	localReady    bool
	localPending  []pion.ICECandidateInit
}

func newConn(p *Provider, peerID string, pc *pion.PeerConnection) *conn {
	c := &conn{
		peerID:   peerID,
		provider: p,
		pc:       pc,
		events:   transport.NewEventQueue(),
		logger:   p.logger.With("peer", peerID),
		window:   newSendWindow(),
		done:     make(chan struct{}),
	}

	pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			return
		}
		c.sendCandidate(candidate.ToJSON())
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		c.logger.Debug("ICE state changed", "state", state.String())
		if state == pion.ICEConnectionStateFailed || state == pion.ICEConnectionStateClosed {
			c.shutdown(transport.Event{Kind: transport.EventClose})
		}
	})
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != dataChannelLabel {
			c.logger.Warn("Ignoring unknown data channel", "label", dc.Label())
			return
		}
		c.attach(dc)
	})
	return c
}

func (c *conn) attach(dc *pion.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(LowWaterMark)
	dc.OnBufferedAmountLow(c.window.drained)
	dc.OnOpen(func() {
		c.logger.Debug("Data channel open")
		c.events.Push(transport.Event{Kind: transport.EventOpen})
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		c.events.Push(transport.Event{Kind: transport.EventData, Data: msg.Data})
	})
	dc.OnError(func(err error) {
		c.events.Push(transport.Event{Kind: transport.EventError, Err: err})
	})
	dc.OnClose(func() {
		c.shutdown(transport.Event{Kind: transport.EventClose})
	})
}

func (c *conn) PeerID() string { return c.peerID }

func (c *conn) Events() <-chan transport.Event { return c.events.Out() }

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	dc, closed := c.dc, c.closed
	c.mu.Unlock()

	if closed {
		return transport.ErrClosed
	}
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return transport.ErrNotOpen
	}
	if err := c.window.wait(dc.BufferedAmount, c.done, SendTimeout); err != nil {
		if errors.Is(err, errWindowTimeout) {
			return fmt.Errorf("send to %s: %w", c.peerID, err)
		}
		return err
	}
	return dc.Send(data)
}

var errWindowTimeout = errors.New("buffered amount not draining")

// sendWindow parks senders while the data channel buffer is above
// HighWaterMark. pion keeps a single buffered-low callback per channel, so
// the callback closes a shared channel that every waiter selects on.
type sendWindow struct {
	mu  sync.Mutex
	low chan struct{}
}

func newSendWindow() *sendWindow {
	return &sendWindow{low: make(chan struct{})}
}

// drained wakes every current waiter.
func (w *sendWindow) drained() {
	w.mu.Lock()
	close(w.low)
	w.low = make(chan struct{})
	w.mu.Unlock()
}

func (w *sendWindow) wait(buffered func() uint64, done <-chan struct{}, timeout time.Duration) error {
	var timer *time.Timer
	for {
		// Take the wake channel before reading the buffer so a drain in
		// between is not missed.
		w.mu.Lock()
		low := w.low
		w.mu.Unlock()

		if buffered() < HighWaterMark {
			return nil
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-low:
		case <-done:
			return transport.ErrClosed
		case <-timer.C:
			return errWindowTimeout
		}
	}
}

// Close tears the connection down without reporting an event.
func (c *conn) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.events.Close()
	c.provider.forget(c)
	return c.pc.Close()
}

func (c *conn) shutdown(ev transport.Event) {
	if !c.markClosed() {
		return
	}
	c.events.Push(ev)
	c.events.Close()
	c.provider.forget(c)
	// pion callbacks must not block on the connection's own teardown.
	go c.pc.Close()
}

func (c *conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (c *conn) setRemote(desc pion.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.remotePending
	c.remotePending = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.logger.Warn("Failed to add buffered ICE candidate", "error", err)
		}
	}
	return nil
}

func (c *conn) addCandidate(candidate pion.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.remotePending = append(c.remotePending, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// sendCandidate holds local candidates back until the offer or answer
// has been signalled, so the remote side never sees a candidate first.
func (c *conn) sendCandidate(candidate pion.ICECandidateInit) {
	c.mu.Lock()
	if !c.localReady {
		c.localPending = append(c.localPending, candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.signal(SignalPayload{Type: SignalCandidate, Candidate: &candidate})
}

func (c *conn) sendDescription(desc *pion.SessionDescription, kind string) error {
	if err := c.provider.signaler.Send(c.peerID, SignalPayload{Type: kind, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	c.mu.Lock()
	c.localReady = true
	pending := c.localPending
	c.localPending = nil
	c.mu.Unlock()

	for i := range pending {
		c.signal(SignalPayload{Type: SignalCandidate, Candidate: &pending[i]})
	}
	return nil
}

func (c *conn) signal(payload SignalPayload) {
	if err := c.provider.signaler.Send(c.peerID, payload); err != nil {
		c.logger.Debug("Failed to send signal", "type", payload.Type, "error", err)
	}
}
