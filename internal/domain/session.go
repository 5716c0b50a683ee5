package domain

import (
	"sort"
	"sync"
	"time"
)

// Membership is one (room, name) pair a connection has joined as.
type Membership struct {
	Room string
	Name string
}

// Session tracks the rooms a single connection has joined. A connection may
// hold several memberships at once, including several names in one room.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	memberships  map[Membership]struct{}
	terminated   bool
	mu           sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		memberships:  make(map[Membership]struct{}),
	}
}

// JoinRoom records a membership. It reports false once the session has been
// terminated.
func (s *Session) JoinRoom(room, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false
	}
	s.memberships[Membership{Room: room, Name: name}] = struct{}{}
	s.LastActiveAt = time.Now()
	return true
}

// LeaveRoom drops a membership and reports whether it was held.
func (s *Session) LeaveRoom(room, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Membership{Room: room, Name: name}
	if _, ok := s.memberships[m]; !ok {
		return false
	}
	delete(s.memberships, m)
	s.LastActiveAt = time.Now()
	return true
}

// InRoom reports whether any name is still held in room.
func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for m := range s.memberships {
		if m.Room == room {
			return true
		}
	}
	return false
}

func (s *Session) IsInRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memberships) > 0
}

// Memberships returns the held memberships sorted by room then name.
func (s *Session) Memberships() []Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedMemberships(s.memberships)
}

// Terminate marks the session closed and hands back every membership held at
// that moment. Only the first call gets ok=true.
func (s *Session) Terminate() (memberships []Membership, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, false
	}
	s.terminated = true
	memberships = sortedMemberships(s.memberships)
	s.memberships = make(map[Membership]struct{})
	return memberships, true
}

func (s *Session) IsTerminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminated
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}

func sortedMemberships(set map[Membership]struct{}) []Membership {
	out := make([]Membership, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room != out[j].Room {
			return out[i].Room < out[j].Room
		}
		return out[i].Name < out[j].Name
	})
	return out
}
