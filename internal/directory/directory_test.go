package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store := NewStore()
	mux := http.NewServeMux()
	NewServer(store, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func sequence(codes ...string) func() string {
	i := 0
	return func() string {
		code := codes[i%len(codes)]
		i++
		return code
	}
}

func TestGenerateRoomCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,2}$`)
	for i := 0; i < 200; i++ {
		if code := GenerateRoomCode(); !pattern.MatchString(code) {
			t.Fatalf("Unexpected room code %q", code)
		}
	}
}

func TestCreateJoinListLeave(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	alice := NewClient(ClientConfig{BaseURL: srv.URL, NewCode: sequence("calm-otter-7")})
	bob := NewClient(ClientConfig{BaseURL: srv.URL})

	code, peers, err := alice.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if code != "calm-otter-7" {
		t.Errorf("Expected generated code, got %q", code)
	}
	if len(peers) != 0 {
		t.Errorf("Expected no other peers, got %v", peers)
	}

	peers, err = bob.Join(ctx, code, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if len(peers) != 1 || peers[0] != "alice" {
		t.Errorf("Expected [alice], got %v", peers)
	}

	members, ok, err := alice.ListMembers(ctx, code, "alice")
	if err != nil || !ok {
		t.Fatalf("ListMembers failed: ok=%v err=%v", ok, err)
	}
	if len(members) != 1 || members[0] != "bob" {
		t.Errorf("Expected [bob], got %v", members)
	}

	notes, err := alice.PollNotifications(ctx, "alice")
	if err != nil {
		t.Fatalf("PollNotifications failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != NotificationPeerJoined || notes[0].PeerID != "bob" {
		t.Errorf("Unexpected notifications %+v", notes)
	}
	notes, _ = alice.PollNotifications(ctx, "alice")
	if len(notes) != 0 {
		t.Errorf("Expected notifications to be drained, got %+v", notes)
	}

	if err := bob.Leave(ctx, code, "bob"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if err := alice.Leave(ctx, code, "alice"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if _, _, err := alice.ListMembers(ctx, code, "alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected empty room to be deleted, got %v", err)
	}
}

func TestCreateRetriesOnConflict(t *testing.T) {
	srv, store := newTestServer(t)
	if _, err := store.Create("taken-code-1", "someone"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	c := NewClient(ClientConfig{BaseURL: srv.URL, NewCode: sequence("taken-code-1", "free-code-2")})
	code, _, err := c.Create(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if code != "free-code-2" {
		t.Errorf("Expected retry with new code, got %q", code)
	}
}

func TestCreateGivesUpAfterThreeConflicts(t *testing.T) {
	srv, store := newTestServer(t)
	_, _ = store.Create("taken-code-1", "someone")

	c := NewClient(ClientConfig{BaseURL: srv.URL, NewCode: sequence("taken-code-1")})
	if _, _, err := c.Create(context.Background(), "alice"); !errors.Is(err, ErrRoomExists) {
		t.Errorf("Expected ErrRoomExists, got %v", err)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := c.Join(context.Background(), "no-such-room-0", "bob")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Expected ErrRoomNotFound, got %v", err)
	}
	var derr *Error
	if !errors.As(err, &derr) || derr.Op != "join" || derr.Room != "no-such-room-0" {
		t.Errorf("Unexpected error context %+v", err)
	}
}

func TestDirectoryUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: url})
	if _, err := c.Join(context.Background(), "room", "bob"); !errors.Is(err, ErrDirectoryUnavailable) {
		t.Errorf("Join: expected ErrDirectoryUnavailable, got %v", err)
	}
	if err := c.Leave(context.Background(), "room", "bob"); !errors.Is(err, ErrDirectoryUnavailable) {
		t.Errorf("Leave: expected ErrDirectoryUnavailable, got %v", err)
	}
}

func TestPollTimeouts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(ClientConfig{BaseURL: srv.URL, PollTimeout: 50 * time.Millisecond})

	peers, ok, err := c.ListMembers(context.Background(), "room", "alice")
	if err != nil || ok || peers != nil {
		t.Errorf("Expected no update on timeout, got peers=%v ok=%v err=%v", peers, ok, err)
	}

	notes, err := c.PollNotifications(context.Background(), "alice")
	if err != nil {
		t.Errorf("Expected timeout to be swallowed, got %v", err)
	}
	if notes == nil || len(notes) != 0 {
		t.Errorf("Expected empty notification list, got %v", notes)
	}
}

func TestServerValidatesBody(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []string{
		`{}`,
		`{"roomCode":"a"}`,
		`{"peerId":"b"}`,
		`not json`,
	}
	for _, body := range tests {
		resp, err := http.Post(srv.URL+"/room/join", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestStoreJoinIsIdempotent(t *testing.T) {
	s := NewStore()
	_, _ = s.Create("room", "alice")
	_, _ = s.Join("room", "bob")
	members, err := s.Join("room", "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected 2 members, got %v", members)
	}
	if notes := s.Drain("alice"); len(notes) != 1 {
		t.Errorf("Expected a single notification, got %+v", notes)
	}
}
