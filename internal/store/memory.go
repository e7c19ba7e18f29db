package store

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type joinKey struct {
	user string
	room string
}

// Memory keeps everything in process memory. It backs the server when no
// database path is configured and serves as the reference adapter in tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	rooms    map[string]struct{}
	joins    map[joinKey]time.Time
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]struct{}),
		rooms:    make(map[string]struct{}),
		joins:    make(map[joinKey]time.Time),
		messages: make(map[string][]chat.Message),
		now:      time.Now,
	}
}

func (m *Memory) StoreUser(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[name] = struct{}{}
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[name] = struct{}{}
	return nil
}

func (m *Memory) StoreMessage(_ context.Context, room string, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[room] = append(m.messages[room], msg)
	return nil
}

func (m *Memory) UserJoinTimestamp(_ context.Context, user, room string, claimed time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := joinKey{user: user, room: room}
	if at, ok := m.joins[key]; ok {
		return at, nil
	}
	at := resolveJoin(claimed, m.now())
	m.joins[key] = at
	return at, nil
}

func (m *Memory) ReplayHistory(ctx context.Context, room string, since time.Time, fn func(chat.Message) error) error {
	m.mu.RLock()
	log := append([]chat.Message(nil), m.messages[room]...)
	m.mu.RUnlock()

	for _, msg := range log {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !since.IsZero() && msg.Sent.Before(since) {
			continue
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
