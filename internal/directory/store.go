package directory

import (
	"slices"
	"sync"
)

// Store is the in-memory room table behind Server.
type Store struct {
	mu            sync.Mutex
	rooms         map[string][]string
	notifications map[string][]Notification
}

func NewStore() *Store {
	return &Store{
		rooms:         make(map[string][]string),
		notifications: make(map[string][]Notification),
	}
}

// Create opens a room with peerID as its first member.
func (s *Store) Create(code, peerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; ok {
		return nil, ErrRoomExists
	}
	s.rooms[code] = []string{peerID}
	return []string{peerID}, nil
}

// Join adds peerID to the room and tells every other member about it.
// Joining twice is a no-op apart from returning the member list.
func (s *Store) Join(code, peerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !slices.Contains(members, peerID) {
		for _, member := range members {
			s.notifications[member] = append(s.notifications[member], Notification{
				Type:   NotificationPeerJoined,
				PeerID: peerID,
			})
		}
		members = append(members, peerID)
		s.rooms[code] = members
	}
	return append([]string(nil), members...), nil
}

// Leave removes peerID and deletes the room once it is empty.
func (s *Store) Leave(code, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[code]
	if !ok {
		return
	}
	kept := members[:0]
	for _, member := range members {
		if member != peerID {
			kept = append(kept, member)
		}
	}
	if len(kept) == 0 {
		delete(s.rooms, code)
		return
	}
	s.rooms[code] = kept
}

func (s *Store) Members(code string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return append([]string(nil), members...), nil
}

// Drain returns and clears the notifications queued for peerID.
func (s *Store) Drain(peerID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.notifications[peerID]
	delete(s.notifications, peerID)
	return queued
}
