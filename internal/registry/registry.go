package registry

import (
	"sort"
	"sync"

	"github.com/weiawesome/roomchat/internal/domain"
)

// ChangeFunc is called with the fresh roster after every join or leave. It
// runs while the room is locked, so calls for one room never interleave and
// arrive in mutation order.
type ChangeFunc func(room string, roster domain.Roster)

// Registry maps room names to their participants. Rooms are created on first
// join and removed once the last participant leaves.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	onChange ChangeFunc
}

type room struct {
	mu      sync.Mutex
	order   []string
	avatars map[string]string
	closed  bool
}

func New(onChange ChangeFunc) *Registry {
	if onChange == nil {
		onChange = func(string, domain.Roster) {}
	}
	return &Registry{
		rooms:    make(map[string]*room),
		onChange: onChange,
	}
}

// Join adds name to room or, if already present, replaces its avatar in
// place. An empty avatar becomes domain.DefaultAvatar.
func (r *Registry) Join(roomName, name, avatar string) domain.Roster {
	if avatar == "" {
		avatar = domain.DefaultAvatar
	}

	for {
		rm := r.getOrCreate(roomName)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last leaver; the entry is gone from the map.
			rm.mu.Unlock()
			continue
		}

		if _, ok := rm.avatars[name]; !ok {
			rm.order = append(rm.order, name)
		}
		rm.avatars[name] = avatar

		roster := rm.snapshot()
		r.onChange(roomName, roster)
		rm.mu.Unlock()
		return roster
	}
}

// Leave removes name from room. Leaving a room the name is not in is a
// no-op that still reports the current roster.
func (r *Registry) Leave(roomName, name string) domain.Roster {
	rm := r.get(roomName)
	if rm == nil {
		return domain.Roster{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return domain.Roster{}
	}

	if _, ok := rm.avatars[name]; ok {
		delete(rm.avatars, name)
		for i, n := range rm.order {
			if n == name {
				rm.order = append(rm.order[:i], rm.order[i+1:]...)
				break
			}
		}
	}

	roster := rm.snapshot()
	// Notify before the entry leaves the map: a joiner that finds the entry
	// blocks on rm.mu and retries, so its roster is always reported after
	// this one.
	r.onChange(roomName, roster)
	if len(rm.order) == 0 {
		rm.closed = true
		r.mu.Lock()
		if r.rooms[roomName] == rm {
			delete(r.rooms, roomName)
		}
		r.mu.Unlock()
	}
	return roster
}

// Roster returns a snapshot of room's participants in join order.
func (r *Registry) Roster(roomName string) domain.Roster {
	rm := r.get(roomName)
	if rm == nil {
		return domain.Roster{}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return domain.Roster{}
	}
	return rm.snapshot()
}

// Rooms returns the currently occupied rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the participant count of every occupied room.
func (r *Registry) Counts() map[string]int {
	counts := make(map[string]int)
	for _, name := range r.Rooms() {
		if n := len(r.Roster(name)); n > 0 {
			counts[name] = n
		}
	}
	return counts
}

func (r *Registry) get(roomName string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomName]
}

func (r *Registry) getOrCreate(roomName string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomName]
	if !ok {
		rm = &room{avatars: make(map[string]string)}
		r.rooms[roomName] = rm
	}
	return rm
}

func (rm *room) snapshot() domain.Roster {
	roster := make(domain.Roster, len(rm.order))
	for i, name := range rm.order {
		roster[i] = domain.Participant{Name: name, Avatar: rm.avatars[name]}
	}
	return roster
}
