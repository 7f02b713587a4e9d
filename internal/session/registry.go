// Package session keeps one secure connection per remote peer: it decides
// who dials, negotiates the pair key, queues traffic until the key is
// ready and reassembles incoming files.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
	"github.com/BioHazard786/warpmesh/internal/protocol"
	"github.com/BioHazard786/warpmesh/internal/transport"
)

// Broadcast addresses every session that is not closed.
const Broadcast = ""

type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventFile
	EventPeerReady
	EventPeerClosed
)

// Event is delivered to the Handler. Message is set for EventMessage and
// File for EventFile.
type Event struct {
	Kind    EventKind
	From    string
	Message protocol.Message
	File    filetransfer.File
}

type Handler func(Event)

type Config struct {
	Provider  transport.Provider
	Handler   Handler
	ChunkSize int
	Logger    *slog.Logger
}

type connEvent struct {
	peer  string
	conn  transport.Conn
	event transport.Event
}

type dialResult struct {
	peer    string
	attempt int
	conn    transport.Conn
	err     error
}

// Registry owns every peer session. All session state is read and
// written by a single goroutine; public methods hand it closures.
type Registry struct {
	localID   string
	provider  transport.Provider
	chunkSize int
	logger    *slog.Logger

	calls   chan func()
	events  chan connEvent
	dials   chan dialResult
	handler *dispatcher

	sessions  map[string]*peerSession
	assembler *filetransfer.Assembler

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = filetransfer.DefaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		localID:   cfg.Provider.ID(),
		provider:  cfg.Provider,
		chunkSize: chunkSize,
		logger:    logger.With("local", cfg.Provider.ID()),
		calls:     make(chan func()),
		events:    make(chan connEvent),
		dials:     make(chan dialResult),
		handler:   newDispatcher(cfg.Handler),
		sessions:  make(map[string]*peerSession),
		assembler: filetransfer.NewAssembler(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
	go func() {
		defer r.wg.Done()
		r.handler.run()
	}()
	return r
}

func (r *Registry) LocalID() string {
	return r.localID
}

// Connect starts a connection to peerID unless one is already active.
// Only the side with the lower id dials; the other waits for the
// inbound connection.
func (r *Registry) Connect(peerID string) {
	_ = r.do(context.Background(), func() { r.connect(peerID) })
}

// State returns the session state for peerID, StateIdle if unknown.
func (r *Registry) State(peerID string) State {
	state := StateIdle
	_ = r.do(context.Background(), func() {
		if s, ok := r.sessions[peerID]; ok {
			state = s.state
		}
	})
	return state
}

// Peers returns a snapshot of every known session ordered by id.
func (r *Registry) Peers() []PeerInfo {
	var peers []PeerInfo
	_ = r.do(context.Background(), func() {
		for _, s := range r.sessions {
			peers = append(peers, s.info())
		}
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// Close tears down every connection and stops the registry.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		close(r.done)
		r.handler.close()
	})
	r.wg.Wait()
	return nil
}

// do runs fn on the actor goroutine and waits for it to finish.
func (r *Registry) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.calls <- call:
	case <-r.done:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		return ErrRegistryClosed
	}
}

func (r *Registry) run() {
	incoming := r.provider.Incoming()
	for {
		select {
		case fn := <-r.calls:
			fn()
		case conn, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			r.accept(conn)
		case ce := <-r.events:
			r.handleConnEvent(ce)
		case res := <-r.dials:
			r.handleDial(res)
		case <-r.done:
			r.shutdown()
			return
		}
	}
}

func (r *Registry) shutdown() {
	for _, s := range r.sessions {
		if s.conn != nil {
			conn := s.conn
			s.conn = nil
			conn.Close()
		}
		s.state = StateClosed
	}
}

// session returns the entry for peerID, creating an idle one.
func (r *Registry) session(peerID string) *peerSession {
	s, ok := r.sessions[peerID]
	if !ok {
		s = &peerSession{id: peerID, state: StateIdle}
		r.sessions[peerID] = s
	}
	return s
}

func (r *Registry) connect(peerID string) {
	if peerID == "" || peerID == r.localID {
		return
	}
	log := r.logger.With("peer", peerID)

	if s, ok := r.sessions[peerID]; ok && s.active() {
		log.Debug("Connection already in progress", "state", s.state)
		return
	}
	if r.localID >= peerID {
		log.Debug("Waiting for peer to dial")
		return
	}

	s := r.session(peerID)
	s.state = StateConnecting
	s.initiator = true
	s.attempt++
	attempt := s.attempt

	log.Info("Connecting to peer")
	go func() {
		conn, err := r.provider.Connect(r.ctx, peerID)
		select {
		case r.dials <- dialResult{peer: peerID, attempt: attempt, conn: conn, err: err}:
		case <-r.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (r *Registry) handleDial(res dialResult) {
	log := r.logger.With("peer", res.peer)

	s, ok := r.sessions[res.peer]
	if !ok || s.attempt != res.attempt || s.state != StateConnecting || s.conn != nil {
		if res.conn != nil {
			log.Debug("Discarding superseded connection")
			res.conn.Close()
		}
		return
	}
	if res.err != nil {
		log.Warn("Connection attempt failed", "error", res.err)
		s.state = StateClosed
		s.initiator = false
		return
	}

	s.conn = res.conn
	r.pump(res.peer, res.conn)
}

func (r *Registry) accept(conn transport.Conn) {
	peerID := conn.PeerID()
	log := r.logger.With("peer", peerID)

	if peerID == r.localID {
		conn.Close()
		return
	}
	if s, ok := r.sessions[peerID]; ok && s.active() {
		log.Debug("Closing duplicate inbound connection", "state", s.state)
		conn.Close()
		return
	}

	s := r.session(peerID)
	s.state = StateConnecting
	s.initiator = false
	s.attempt++
	s.conn = conn

	log.Info("Accepted connection from peer")
	r.pump(peerID, conn)
}

// pump forwards conn's events to the actor, tagged with the connection
// so events from a replaced connection can be recognised.
func (r *Registry) pump(peerID string, conn transport.Conn) {
	go func() {
		for ev := range conn.Events() {
			select {
			case r.events <- connEvent{peer: peerID, conn: conn, event: ev}:
			case <-r.done:
				for range conn.Events() {
				}
				return
			}
		}
		select {
		case r.events <- connEvent{peer: peerID, conn: conn, event: transport.Event{Kind: transport.EventClose}}:
		case <-r.done:
		}
	}()
}

func (r *Registry) handleConnEvent(ce connEvent) {
	s, ok := r.sessions[ce.peer]
	if !ok || s.conn != ce.conn {
		return
	}

	switch ce.event.Kind {
	case transport.EventOpen:
		r.handleOpen(s)
	case transport.EventData:
		r.receive(s, ce.event.Data)
	case transport.EventClose:
		r.closeSession(s, nil)
	case transport.EventError:
		r.closeSession(s, ce.event.Err)
	}
}

func (r *Registry) handleOpen(s *peerSession) {
	if s.state != StateConnecting {
		return
	}
	s.state = StateAwaitingKey

	if !s.initiator {
		r.logger.Debug("Channel open, waiting for key", "peer", s.id)
		return
	}

	if err := r.sendKey(s); err != nil {
		r.logger.Error("Key exchange failed", "peer", s.id, "error", err)
		r.closeSession(s, err)
		return
	}
	r.ready(s)
}

// ready marks s usable and flushes everything queued while it was not.
func (r *Registry) ready(s *peerSession) {
	s.state = StateReady
	r.logger.Info("Peer ready", "peer", s.id, "initiator", s.initiator)
	r.handler.push(Event{Kind: EventPeerReady, From: s.id})

	messages := s.messages
	s.messages = nil
	for _, msg := range messages {
		if err := r.sendMessage(s, msg); err != nil {
			r.logger.Warn("Failed to deliver queued message", "peer", s.id, "error", err)
		}
	}

	files := s.files
	s.files = nil
	if len(files) == 0 {
		return
	}
	job := fileJob{peer: s.id, conn: s.conn, key: s.key}
	go func() {
		for _, f := range files {
			if err := r.transferFile(r.ctx, job, f); err != nil {
				r.logger.Warn("Failed to deliver queued file", "peer", job.peer, "file", f.Name, "error", err)
			}
		}
	}()
}

// closeSession purges everything tied to the connection. The entry stays
// so that sends to this peer keep queueing until it reconnects.
func (r *Registry) closeSession(s *peerSession, cause error) {
	wasOpen := s.state == StateReady || s.state == StateAwaitingKey

	if s.conn != nil {
		conn := s.conn
		s.conn = nil
		conn.Close()
	}
	s.key = nil
	s.messages = nil
	s.files = nil
	s.state = StateClosed
	s.initiator = false
	dropped := r.assembler.DropPeer(s.id)

	if cause != nil {
		r.logger.Warn("Connection to peer failed", "peer", s.id, "error", cause, "dropped_transfers", dropped)
	} else {
		r.logger.Info("Connection to peer closed", "peer", s.id, "dropped_transfers", dropped)
	}
	if wasOpen {
		r.handler.push(Event{Kind: EventPeerClosed, From: s.id})
	}
}

// targets resolves a destination to sessions. A direct destination is
// created on demand so traffic for it can queue.
func (r *Registry) targets(peerID string) []*peerSession {
	if peerID != Broadcast {
		if peerID == r.localID {
			return nil
		}
		return []*peerSession{r.session(peerID)}
	}

	var out []*peerSession
	for _, s := range r.sessions {
		if s.state != StateClosed {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// dispatcher runs the handler on its own goroutine with an unbounded
// backlog, so the actor never waits on the handler and the handler may
// call back into the registry.
type dispatcher struct {
	handler Handler

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool
}

func newDispatcher(h Handler) *dispatcher {
	d := &dispatcher{handler: h}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) push(ev Event) {
	if d.handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = append(d.pending, ev)
	d.cond.Signal()
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		ev := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.handler(ev)
	}
}
