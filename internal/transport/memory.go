package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Network is an in-process switchboard connecting MemoryProviders by id.
// It lets registry and discovery tests run full peer meshes without
// sockets.
type Network struct {
	mu        sync.Mutex
	providers map[string]*MemoryProvider
	failAfter map[link]int
	links     map[link][]*memConn
}

type link struct{ from, to string }

func NewNetwork() *Network {
	return &Network{
		providers: make(map[string]*MemoryProvider),
		failAfter: make(map[link]int),
		links:     make(map[link][]*memConn),
	}
}

// Provider returns the provider registered under id, creating it on
// first use.
func (n *Network) Provider(id string) *MemoryProvider {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.providers[id]; ok {
		return p
	}
	p := &MemoryProvider{
		id:       id,
		network:  n,
		incoming: make(chan Conn, 64),
		done:     make(chan struct{}),
	}
	n.providers[id] = p
	return p
}

// FailSendsAfter makes sends from one peer to another fail once n more
// sends have succeeded. A negative n clears the fault.
func (n *Network) FailSendsAfter(from, to string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if count < 0 {
		delete(n.failAfter, link{from, to})
		return
	}
	n.failAfter[link{from, to}] = count
}

// Disconnect closes every live connection between a and b. Both sides
// observe EventClose.
func (n *Network) Disconnect(a, b string) {
	n.mu.Lock()
	conns := append(append([]*memConn(nil), n.links[link{a, b}]...), n.links[link{b, a}]...)
	delete(n.links, link{a, b})
	delete(n.links, link{b, a})
	n.mu.Unlock()

	for _, c := range conns {
		c.shutdown(Event{Kind: EventClose})
		c.remote.shutdown(Event{Kind: EventClose})
	}
}

// Connections returns how many connections a has opened to b.
func (n *Network) Connections(a, b string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links[link{a, b}])
}

func (n *Network) allowSend(from, to string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	remaining, ok := n.failAfter[link{from, to}]
	if !ok {
		return true
	}
	if remaining == 0 {
		return false
	}
	n.failAfter[link{from, to}] = remaining - 1
	return true
}

func (n *Network) lookup(id string) (*MemoryProvider, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.providers[id]
	return p, ok
}

func (n *Network) track(from, to string, c *memConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[link{from, to}] = append(n.links[link{from, to}], c)
}

// MemoryProvider is a Provider bound to a Network.
type MemoryProvider struct {
	id       string
	network  *Network
	incoming chan Conn

	closeOnce sync.Once
	done      chan struct{}
}

var _ Provider = (*MemoryProvider)(nil)

func (p *MemoryProvider) ID() string { return p.id }

func (p *MemoryProvider) Incoming() <-chan Conn { return p.incoming }

// Connect opens a connection pair. The remote half is handed to the
// target's Incoming channel. Both halves emit EventOpen first.
func (p *MemoryProvider) Connect(ctx context.Context, peerID string) (Conn, error) {
	target, ok := p.network.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("connect %s: %w", peerID, ErrUnknownPeer)
	}

	local := newMemConn(p.network, p.id, peerID)
	remote := newMemConn(p.network, peerID, p.id)
	local.remote = remote
	remote.remote = local

	select {
	case target.incoming <- remote:
	case <-target.done:
		return nil, fmt.Errorf("connect %s: %w", peerID, ErrClosed)
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.network.track(p.id, peerID, local)

	// The remote half opens first so it never sees data before its open.
	remote.events.Push(Event{Kind: EventOpen})
	local.events.Push(Event{Kind: EventOpen})
	return local, nil
}

func (p *MemoryProvider) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

type memConn struct {
	network *Network
	localID string
	peerID  string
	remote  *memConn
	events  *EventQueue

	mu     sync.Mutex
	closed bool
}

func newMemConn(n *Network, localID, peerID string) *memConn {
	return &memConn{
		network: n,
		localID: localID,
		peerID:  peerID,
		events:  NewEventQueue(),
	}
}

func (c *memConn) PeerID() string { return c.peerID }

func (c *memConn) Events() <-chan Event { return c.events.Out() }

var errInjected = errors.New("injected send failure")

func (c *memConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.network.allowSend(c.localID, c.peerID) {
		return errInjected
	}
	return c.remote.deliver(append([]byte(nil), data...))
}

func (c *memConn) deliver(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.events.Push(Event{Kind: EventData, Data: data})
	return nil
}

// Close shuts the local half quietly and reports EventClose to the peer.
func (c *memConn) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.events.Close()
	c.remote.shutdown(Event{Kind: EventClose})
	return nil
}

func (c *memConn) shutdown(ev Event) {
	if !c.markClosed() {
		return
	}
	c.events.Push(ev)
	c.events.Close()
}

func (c *memConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
