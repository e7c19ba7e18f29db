package server

import (
	"sort"
	"sync"
)

// room is a named member set. Rooms are created on first use and never
// removed, so an empty room stays listed.
type room struct {
	name    string
	members map[*Session]struct{}

	// order serialises broadcasts so every member sees one room's messages
	// in the order they were published.
	order sync.Mutex
}

// Registry maps room names to the sessions currently joined. A session is a
// member of at most one room at any instant.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	where map[*Session]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		where: make(map[*Session]string),
	}
}

// EnsureRoom creates the room if it does not exist yet.
func (r *Registry) EnsureRoom(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(name)
}

func (r *Registry) ensureLocked(name string) *room {
	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{name: name, members: make(map[*Session]struct{})}
		r.rooms[name] = rm
	}
	return rm
}

// room returns the named room, creating it when absent.
func (r *Registry) room(name string) *room {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(name)
}

// AddMember inserts s into the named room. A session still listed in another
// room is moved, keeping the single-room invariant even if a caller skipped
// RemoveMember.
func (r *Registry) AddMember(name string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.where[s]; ok {
		if prev == name {
			return
		}
		delete(r.rooms[prev].members, s)
	}
	r.ensureLocked(name).members[s] = struct{}{}
	r.where[s] = name
}

// RemoveMember drops s from the named room and reports whether it was there.
func (r *Registry) RemoveMember(name string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.where[s] != name {
		return false
	}
	delete(r.rooms[name].members, s)
	delete(r.where, s)
	return true
}

// MembersOf returns a point-in-time copy of the room's members.
func (r *Registry) MembersOf(name string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	members := make([]*Session, 0, len(rm.members))
	for s := range rm.members {
		members = append(members, s)
	}
	return members
}

// RoomOf returns the room s is registered in, if any.
func (r *Registry) RoomOf(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.where[s]
	return name, ok
}

// Counts returns the member count of every known room.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for name, rm := range r.rooms {
		counts[name] = len(rm.members)
	}
	return counts
}

// Rooms lists known room names in lexical order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
