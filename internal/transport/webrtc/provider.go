// Package webrtc implements transport.Provider over pion data channels,
// negotiated through the signaling hub.
package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmesh/internal/config"
	"github.com/BioHazard786/warpmesh/internal/signaling"
	"github.com/BioHazard786/warpmesh/internal/transport"
)

// Provider owns one PeerConnection per remote peer. Its id is the one the
// signaling hub assigned.
type Provider struct {
	signaler Signaler
	config   pion.Configuration
	logger   *slog.Logger

	mu    sync.Mutex
	peers map[string]*conn

	incoming  chan transport.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the signaling hub named by cfg and returns a provider
// bound to the assigned peer id.
func Dial(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Provider, error) {
	client, err := signaling.Dial(ctx, cfg.WebSocketURL)
	if err != nil {
		return nil, err
	}
	return New(client, ICEConfiguration(cfg, nil), logger), nil
}

func New(signaler Signaler, iceConfig pion.Configuration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		signaler: signaler,
		config:   iceConfig,
		logger:   logger.With("component", "webrtc"),
		peers:    make(map[string]*conn),
		incoming: make(chan transport.Conn, 16),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Provider) ID() string { return p.signaler.ID() }

func (p *Provider) Incoming() <-chan transport.Conn { return p.incoming }

// Connect starts negotiation with peerID. The returned Conn reports
// EventOpen once the data channel is usable.
func (p *Provider) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	if peerID == p.ID() {
		return nil, fmt.Errorf("%w: %s is the local peer", transport.ErrUnknownPeer, peerID)
	}
	select {
	case <-p.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pc, err := pion.NewPeerConnection(p.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c := newConn(p, peerID, pc)
	p.track(c)

	dc, err := createDataChannel(pc)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.attach(dc)

	offer, err := createOffer(pc)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.sendDescription(offer, SignalOffer); err != nil {
		c.Close()
		return nil, err
	}
	p.logger.Debug("Sent offer", "peer", peerID)
	return c, nil
}

func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)

		p.mu.Lock()
		conns := make([]*conn, 0, len(p.peers))
		for _, c := range p.peers {
			conns = append(conns, c)
		}
		p.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
		p.signaler.Close()
	})
	return nil
}

func (p *Provider) run() {
	for {
		select {
		case msg, ok := <-p.signaler.Incoming():
			if !ok {
				p.logger.Warn("Signaling connection lost")
				return
			}
			p.handle(msg)
		case <-p.done:
			return
		}
	}
}

func (p *Provider) handle(msg *signaling.Message) {
	if msg.Type == signaling.MessageTypeError {
		p.logger.Debug("Signaling error", "to", msg.To, "error", msg.Error)
		return
	}

	payload, err := DecodeSignal(msg)
	if err != nil {
		p.logger.Warn("Dropping signal", "from", msg.From, "error", err)
		return
	}

	switch payload.Type {
	case SignalOffer:
		if err := p.accept(msg.From, payload); err != nil {
			p.logger.Warn("Failed to answer offer", "peer", msg.From, "error", err)
		}

	case SignalAnswer:
		c := p.lookup(msg.From)
		if c == nil {
			p.logger.Debug("Answer for unknown peer", "peer", msg.From)
			return
		}
		if err := c.setRemote(payload.description()); err != nil {
			p.logger.Warn("Failed to apply answer", "peer", msg.From, "error", err)
			c.shutdown(transport.Event{Kind: transport.EventError, Err: err})
		}

	case SignalCandidate:
		c := p.lookup(msg.From)
		if c == nil {
			return
		}
		if err := c.addCandidate(*payload.Candidate); err != nil {
			p.logger.Debug("Failed to add ICE candidate", "peer", msg.From, "error", err)
		}
	}
}

// accept builds the responder side of a connection and hands it to the
// consumer once the answer is on its way.
func (p *Provider) accept(peerID string, offer SignalPayload) error {
	pc, err := pion.NewPeerConnection(p.config)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c := newConn(p, peerID, pc)
	p.track(c)

	if err := c.setRemote(offer.description()); err != nil {
		c.Close()
		return err
	}
	answer, err := createAnswer(pc)
	if err != nil {
		c.Close()
		return err
	}
	if err := c.sendDescription(answer, SignalAnswer); err != nil {
		c.Close()
		return err
	}

	select {
	case p.incoming <- c:
		p.logger.Debug("Accepted offer", "peer", peerID)
		return nil
	case <-p.done:
		c.Close()
		return transport.ErrClosed
	}
}

// track registers c as the connection for its peer. A previous
// connection to the same peer is torn down and reports EventClose.
func (p *Provider) track(c *conn) {
	p.mu.Lock()
	old := p.peers[c.peerID]
	p.peers[c.peerID] = c
	p.mu.Unlock()

	if old != nil {
		p.logger.Debug("Replacing connection", "peer", c.peerID)
		old.shutdown(transport.Event{Kind: transport.EventClose})
	}
}

func (p *Provider) forget(c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peers[c.peerID] == c {
		delete(p.peers, c.peerID)
	}
}

func (p *Provider) lookup(peerID string) *conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers[peerID]
}

var _ transport.Provider = (*Provider)(nil)
