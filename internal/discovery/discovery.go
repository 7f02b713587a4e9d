// Package discovery keeps the local peer connected to every member of its
// room by polling the directory and handing new peer ids to the session
// registry.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/warpmesh/internal/clock"
	"github.com/BioHazard786/warpmesh/internal/directory"
)

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
)

// Directory is the subset of directory.Client the scheduler drives.
type Directory interface {
	Create(ctx context.Context, selfID string) (string, []string, error)
	Join(ctx context.Context, roomCode, selfID string) ([]string, error)
	Leave(ctx context.Context, roomCode, selfID string) error
	ListMembers(ctx context.Context, roomCode, selfID string) ([]string, bool, error)
	PollNotifications(ctx context.Context, selfID string) ([]directory.Notification, error)
}

// Connector is satisfied by *session.Registry.
type Connector interface {
	Connect(peerID string)
}

type Config struct {
	Directory Directory
	Connector Connector
	SelfID    string

	Clock          clock.Clock
	Logger         *slog.Logger
	NotifyInterval time.Duration
	// NewSchedule builds the membership pacing for each room entered.
	NewSchedule func() *Schedule
}

// Scheduler runs the notification and membership loops for the current
// room.
type Scheduler struct {
	dir            Directory
	connector      Connector
	selfID         string
	clock          clock.Clock
	logger         *slog.Logger
	notifyInterval time.Duration
	newSchedule    func() *Schedule

	mu       sync.Mutex
	room     string
	entering bool
	cancel   context.CancelFunc
	group    *errgroup.Group

	notifyBusy atomic.Bool
	memberBusy atomic.Bool
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		dir:            cfg.Directory,
		connector:      cfg.Connector,
		selfID:         cfg.SelfID,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		notifyInterval: cfg.NotifyInterval,
		newSchedule:    cfg.NewSchedule,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.notifyInterval <= 0 {
		s.notifyInterval = DefaultNotifyInterval
	}
	if s.newSchedule == nil {
		s.newSchedule = NewSchedule
	}
	return s
}

// Room returns the current room code, or "" outside a room.
func (s *Scheduler) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Create opens a new room, connects to any members already listed and
// starts polling. It returns the room code.
func (s *Scheduler) Create(ctx context.Context) (string, error) {
	if err := s.reserve(); err != nil {
		return "", err
	}
	code, peers, err := s.dir.Create(ctx, s.selfID)
	if err != nil {
		s.release()
		return "", err
	}
	s.enter(code, peers)
	return code, nil
}

// Join enters an existing room and starts polling.
func (s *Scheduler) Join(ctx context.Context, roomCode string) error {
	if err := s.reserve(); err != nil {
		return err
	}
	peers, err := s.dir.Join(ctx, roomCode, s.selfID)
	if err != nil {
		s.release()
		return err
	}
	s.enter(roomCode, peers)
	return nil
}

// Leave stops both loops, waits for in-flight iterations and tells the
// directory. The room is cleared even if the directory call fails.
func (s *Scheduler) Leave(ctx context.Context) error {
	s.mu.Lock()
	room, cancel, group := s.room, s.cancel, s.group
	s.room, s.cancel, s.group = "", nil, nil
	s.mu.Unlock()

	if room == "" {
		return ErrNotInRoom
	}
	cancel()
	_ = group.Wait()

	s.logger.Info("Leaving room", "room", room)
	return s.dir.Leave(ctx, room, s.selfID)
}

// reserve claims the scheduler for one Create or Join while the directory
// call is in flight.
func (s *Scheduler) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != "" || s.entering {
		return ErrAlreadyInRoom
	}
	s.entering = true
	return nil
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.entering = false
	s.mu.Unlock()
}

func (s *Scheduler) enter(code string, peers []string) {
	s.logger.Info("Entered room", "room", code, "peers", len(peers))
	s.connectAll(peers)

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.room, s.cancel, s.group = code, cancel, group
	s.entering = false
	s.mu.Unlock()

	group.Go(func() error { return s.notificationLoop(ctx, group) })
	group.Go(func() error { return s.membershipLoop(ctx, group, code) })
}

func (s *Scheduler) notificationLoop(ctx context.Context, group *errgroup.Group) error {
	ticker := s.clock.NewTicker(s.notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tryRun(group, &s.notifyBusy, "notifications", func() { s.pollNotifications(ctx) })
		}
	}
}

func (s *Scheduler) membershipLoop(ctx context.Context, group *errgroup.Group, room string) error {
	schedule := s.newSchedule()
	for {
		wait := schedule.Next()
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
			s.tryRun(group, &s.memberBusy, "membership", func() { s.pollMembers(ctx, room) })
		}
	}
}

// tryRun starts fn unless the previous iteration of the same loop is
// still running, in which case the tick is skipped.
func (s *Scheduler) tryRun(group *errgroup.Group, busy *atomic.Bool, loop string, fn func()) {
	if !busy.CompareAndSwap(false, true) {
		s.logger.Debug("Skipping tick, previous iteration still running", "loop", loop)
		return
	}
	group.Go(func() error {
		defer busy.Store(false)
		fn()
		return nil
	})
}

func (s *Scheduler) pollNotifications(ctx context.Context) {
	notes, err := s.dir.PollNotifications(ctx, s.selfID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Notification poll failed", "error", err)
		}
		return
	}
	for _, n := range notes {
		if n.Type == directory.NotificationPeerJoined {
			s.logger.Debug("Peer joined", "peer", n.PeerID)
			s.connect(n.PeerID)
		}
	}
}

func (s *Scheduler) pollMembers(ctx context.Context, room string) {
	peers, ok, err := s.dir.ListMembers(ctx, room, s.selfID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Membership poll failed", "room", room, "error", err)
		}
		return
	}
	if !ok {
		s.logger.Debug("Membership poll timed out", "room", room)
		return
	}
	s.connectAll(peers)
}

func (s *Scheduler) connectAll(peers []string) {
	for _, p := range peers {
		s.connect(p)
	}
}

func (s *Scheduler) connect(peerID string) {
	if peerID == "" || peerID == s.selfID {
		return
	}
	s.connector.Connect(peerID)
}
