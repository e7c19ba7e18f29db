package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMembership(t *testing.T) {
	r := NewRegistry()
	a, b := &Session{name: "a"}, &Session{name: "b"}

	r.EnsureRoom("lobby")
	r.EnsureRoom("lobby")
	assert.Equal(t, map[string]int{"lobby": 0}, r.Counts())

	r.AddMember("lobby", a)
	r.AddMember("lobby", a)
	r.AddMember("lobby", b)
	assert.Len(t, r.MembersOf("lobby"), 2, "adding twice is a no-op")

	assert.True(t, r.RemoveMember("lobby", a))
	assert.False(t, r.RemoveMember("lobby", a), "removing an absent member is a no-op")
	assert.False(t, r.RemoveMember("elsewhere", b))
	assert.Equal(t, []*Session{b}, r.MembersOf("lobby"))

	room, ok := r.RoomOf(b)
	require.True(t, ok)
	assert.Equal(t, "lobby", room)
	_, ok = r.RoomOf(a)
	assert.False(t, ok)
}

func TestRegistryEmptyRoomsPersist(t *testing.T) {
	r := NewRegistry()
	s := &Session{}

	r.AddMember("team", s)
	r.RemoveMember("team", s)

	assert.Equal(t, []string{"team"}, r.Rooms())
	assert.Empty(t, r.MembersOf("team"))
	assert.Nil(t, r.MembersOf("never-created"))
}

func TestRegistrySnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	a, b := &Session{}, &Session{}
	r.AddMember("x", a)

	snapshot := r.MembersOf("x")
	r.AddMember("x", b)
	r.RemoveMember("x", a)

	assert.Equal(t, []*Session{a}, snapshot)
	assert.Equal(t, []*Session{b}, r.MembersOf("x"))
}

func TestRegistryMovesSessionBetweenRooms(t *testing.T) {
	r := NewRegistry()
	s := &Session{}

	r.AddMember("x", s)
	r.AddMember("y", s)

	assert.Empty(t, r.MembersOf("x"))
	assert.Equal(t, []*Session{s}, r.MembersOf("y"))
	assert.False(t, r.RemoveMember("x", s))
}

// TestRegistryConcurrentSingleRoomInvariant hammers the registry from many
// goroutines and checks that no session is ever listed in two rooms.
func TestRegistryConcurrentSingleRoomInvariant(t *testing.T) {
	r := NewRegistry()
	sessions := make([]*Session, 20)
	for i := range sessions {
		sessions[i] = &Session{name: fmt.Sprintf("s%d", i)}
	}
	rooms := []string{"a", "b", "c"}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				room := rooms[(i+j)%len(rooms)]
				r.AddMember(room, s)
				_ = r.MembersOf(room)
				if j%3 == 0 {
					r.RemoveMember(room, s)
				}
			}
		}()
	}

	stop := make(chan struct{})
	violations := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			seen := make(map[*Session]string)
			r.mu.RLock()
			for name, rm := range r.rooms {
				for s := range rm.members {
					if prev, dup := seen[s]; dup {
						select {
						case violations <- fmt.Sprintf("%s in %s and %s", s.name, prev, name):
						default:
						}
					}
					seen[s] = name
				}
			}
			r.mu.RUnlock()
		}
	}()

	wg.Wait()
	close(stop)

	select {
	case v := <-violations:
		t.Fatalf("session listed in two rooms: %s", v)
	default:
	}

	total := 0
	for _, n := range r.Counts() {
		total += n
	}
	assert.LessOrEqual(t, total, len(sessions))
}
