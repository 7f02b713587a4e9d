package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpmesh/internal/clock"
	"github.com/BioHazard786/warpmesh/internal/directory"
)

type fakeDirectory struct {
	mu            sync.Mutex
	initial       []string
	members       []string
	notifications []directory.Notification
	listCalls     int
	leaveCalls    int
	joinErr       error

	// listGate, when set, blocks ListMembers until it is closed.
	listGate chan struct{}
	// joinGate, when set, blocks Join until it is closed; joinStarted is
	// closed once a Join is waiting on it.
	joinGate    chan struct{}
	joinStarted chan struct{}
}

func (d *fakeDirectory) Create(ctx context.Context, selfID string) (string, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return "calm-otter-7", append([]string(nil), d.initial...), nil
}

func (d *fakeDirectory) Join(ctx context.Context, roomCode, selfID string) ([]string, error) {
	if d.joinGate != nil {
		close(d.joinStarted)
		<-d.joinGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.joinErr != nil {
		return nil, d.joinErr
	}
	return append([]string(nil), d.initial...), nil
}

func (d *fakeDirectory) Leave(ctx context.Context, roomCode, selfID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveCalls++
	return nil
}

func (d *fakeDirectory) ListMembers(ctx context.Context, roomCode, selfID string) ([]string, bool, error) {
	d.mu.Lock()
	d.listCalls++
	gate := d.listGate
	members := append([]string(nil), d.members...)
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	return members, true, nil
}

func (d *fakeDirectory) PollNotifications(ctx context.Context, selfID string) ([]directory.Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.notifications
	d.notifications = nil
	return out, nil
}

func (d *fakeDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listCalls
}

type recorder struct {
	mu    sync.Mutex
	peers []string
	added chan string
}

func newRecorder() *recorder {
	return &recorder{added: make(chan string, 64)}
}

func (r *recorder) Connect(peerID string) {
	r.mu.Lock()
	r.peers = append(r.peers, peerID)
	r.mu.Unlock()
	r.added <- peerID
}

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.added:
		if got != want {
			t.Errorf("Expected connect to %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connect to %q", want)
	}
}

func newScheduler(dir Directory, conn Connector, clk clock.Clock) *Scheduler {
	return New(Config{
		Directory: dir,
		Connector: conn,
		SelfID:    "self",
		Clock:     clk,
	})
}

func TestScheduleAggressiveThenSteady(t *testing.T) {
	s := NewSchedule()
	for i := 0; i < DefaultAggressiveCycles; i++ {
		if !s.Aggressive() {
			t.Fatalf("cycle %d: expected aggressive phase", i)
		}
		if d := s.Next(); d != 750*time.Millisecond {
			t.Fatalf("cycle %d: expected 750ms, got %v", i, d)
		}
	}
	for i := 0; i < 3; i++ {
		if s.Aggressive() {
			t.Fatal("Expected steady phase")
		}
		if d := s.Next(); d != 3*time.Second {
			t.Fatalf("Expected 3s, got %v", d)
		}
	}

	s.Reset()
	if !s.Aggressive() {
		t.Error("Reset should re-enter aggressive phase")
	}
}

func TestCreateConnectsInitialPeers(t *testing.T) {
	dir := &fakeDirectory{initial: []string{"peer-b", "self", "peer-c"}}
	rec := newRecorder()
	s := newScheduler(dir, rec, clock.NewFake(time.Unix(0, 0)))

	code, err := s.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer s.Leave(context.Background())

	if code != "calm-otter-7" || s.Room() != code {
		t.Errorf("Unexpected room %q / %q", code, s.Room())
	}
	rec.expect(t, "peer-b")
	rec.expect(t, "peer-c")

	if _, err := s.Create(context.Background()); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("Expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestJoinFailurePropagates(t *testing.T) {
	dir := &fakeDirectory{joinErr: directory.ErrRoomNotFound}
	s := newScheduler(dir, newRecorder(), clock.NewFake(time.Unix(0, 0)))

	if err := s.Join(context.Background(), "nope-nope-1"); !errors.Is(err, directory.ErrRoomNotFound) {
		t.Fatalf("Expected ErrRoomNotFound, got %v", err)
	}
	if s.Room() != "" {
		t.Error("Room should stay empty after failed join")
	}

	dir.mu.Lock()
	dir.joinErr = nil
	dir.mu.Unlock()
	if err := s.Join(context.Background(), "calm-otter-7"); err != nil {
		t.Fatalf("Join after a failed attempt should succeed, got %v", err)
	}
	s.Leave(context.Background())
}

func TestConcurrentEnterIsRejected(t *testing.T) {
	dir := &fakeDirectory{joinGate: make(chan struct{}), joinStarted: make(chan struct{})}
	s := newScheduler(dir, newRecorder(), clock.NewFake(time.Unix(0, 0)))

	joined := make(chan error, 1)
	go func() { joined <- s.Join(context.Background(), "calm-otter-7") }()
	<-dir.joinStarted

	if _, err := s.Create(context.Background()); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("Create during Join: expected ErrAlreadyInRoom, got %v", err)
	}
	if err := s.Join(context.Background(), "other-room-2"); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("Second Join: expected ErrAlreadyInRoom, got %v", err)
	}

	close(dir.joinGate)
	if err := <-joined; err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if s.Room() != "calm-otter-7" {
		t.Errorf("Room = %q", s.Room())
	}
	if err := s.Leave(context.Background()); err != nil {
		t.Errorf("Leave failed: %v", err)
	}
}

func TestNotificationLoopConnectsJoiners(t *testing.T) {
	dir := &fakeDirectory{}
	rec := newRecorder()
	clk := clock.NewFake(time.Unix(0, 0))
	s := newScheduler(dir, rec, clk)

	if err := s.Join(context.Background(), "calm-otter-7"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer s.Leave(context.Background())

	clk.WaitForTimers(2)
	dir.mu.Lock()
	dir.notifications = []directory.Notification{{Type: directory.NotificationPeerJoined, PeerID: "peer-z"}}
	dir.mu.Unlock()

	clk.Advance(time.Second)
	rec.expect(t, "peer-z")
}

func TestMembershipLoopConnectsMembers(t *testing.T) {
	dir := &fakeDirectory{members: []string{"peer-m"}}
	rec := newRecorder()
	clk := clock.NewFake(time.Unix(0, 0))
	s := newScheduler(dir, rec, clk)

	if err := s.Join(context.Background(), "calm-otter-7"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer s.Leave(context.Background())

	clk.WaitForTimers(2)
	clk.Advance(750 * time.Millisecond)
	rec.expect(t, "peer-m")
}

func TestMembershipTickSkippedWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	dir := &fakeDirectory{listGate: gate}
	clk := clock.NewFake(time.Unix(0, 0))
	s := newScheduler(dir, newRecorder(), clk)

	if err := s.Join(context.Background(), "calm-otter-7"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	clk.WaitForTimers(2)
	clk.Advance(750 * time.Millisecond)
	waitFor(t, func() bool { return dir.calls() == 1 })

	for i := 0; i < 3; i++ {
		clk.WaitForTimers(2)
		clk.Advance(750 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := dir.calls(); n != 1 {
		t.Errorf("Expected overlapping ticks to be skipped, got %d calls", n)
	}

	close(gate)
	waitFor(t, func() bool { return !s.memberBusy.Load() })
	clk.WaitForTimers(2)
	clk.Advance(750 * time.Millisecond)
	waitFor(t, func() bool { return dir.calls() == 2 })

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
}

func TestLeaveStopsLoops(t *testing.T) {
	dir := &fakeDirectory{members: []string{"peer-m"}}
	clk := clock.NewFake(time.Unix(0, 0))
	s := newScheduler(dir, newRecorder(), clk)

	if err := s.Join(context.Background(), "calm-otter-7"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	clk.WaitForTimers(2)

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if s.Room() != "" {
		t.Error("Expected room to be cleared")
	}
	dir.mu.Lock()
	leaves := dir.leaveCalls
	dir.mu.Unlock()
	if leaves != 1 {
		t.Errorf("Expected one directory leave, got %d", leaves)
	}

	clk.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if n := dir.calls(); n != 0 {
		t.Errorf("Expected no polling after leave, got %d calls", n)
	}

	if err := s.Leave(context.Background()); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("Expected ErrNotInRoom, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
