// Package server coordinates session tracking, room membership, message
// fan-out and connection cleanup for the chat system via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// ErrHubClosed is returned by Serve once Shutdown has started.
var ErrHubClosed = errors.New("server: hub is shut down")

// Hub owns the room registry and every live session. It is transport
// agnostic: the TCP listener and the WebSocket handler both hand their
// connections to Serve.
type Hub struct {
	cfg   Config
	store store.Store
	rooms *Registry

	mutex    sync.RWMutex
	sessions map[*Session]struct{}
	conns    map[Conn]struct{}
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub backed by st. The configuration is sanitized first.
func NewHub(cfg Config, st store.Store) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg.Sanitize(),
		store:    st,
		rooms:    NewRegistry(),
		sessions: make(map[*Session]struct{}),
		conns:    make(map[Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the room membership table.
func (h *Hub) Registry() *Registry {
	return h.rooms
}

// SessionCount returns the number of logged-in sessions.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Sessions returns a snapshot of the logged-in sessions.
func (h *Hub) Sessions() []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Serve runs the whole lifecycle of one connection: login, room selection,
// chat, and cleanup. It blocks until the connection ends and always closes
// conn before returning.
func (h *Hub) Serve(conn Conn) error {
	if !h.enter(conn) {
		_ = conn.Close()
		return ErrHubClosed
	}
	defer h.exit(conn)

	addr := conn.RemoteAddr()
	frame, err := conn.ReadFrame()
	if err != nil {
		_ = conn.Close()
		log.Debug().Err(err).Str("addr", addr).Msg("connection closed before login")
		return connectionLost(err)
	}

	name := strings.TrimSpace(frame)
	if err := chat.ValidateUsername(name); err != nil {
		log.Info().Err(err).Str("addr", addr).Msg("rejecting connection with invalid username")
		h.reject(conn, "invalid username: only letters, numbers, dots and underscores are allowed")
		return err
	}

	if err := h.store.StoreUser(h.ctx, name); err != nil {
		log.Error().Err(err).Str("addr", addr).Str("user", name).Msg("failed to store user")
		h.reject(conn, "server storage is unavailable, try again later")
		return err
	}

	s := newSession(h, conn, name)
	h.track(s)
	defer h.untrack(s)

	s.log.Info().Msg("session started")
	err = s.run(h.ctx)
	if err != nil && !errors.Is(err, chat.ConnectionLost) {
		s.log.Error().Err(err).Msg("session ended with error")
	} else {
		s.log.Info().Err(err).Msg("session ended")
	}
	return err
}

// enter registers a Serve call with the shutdown WaitGroup unless the hub
// is already closing.
func (h *Hub) enter(conn Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) exit(conn Conn) {
	h.mutex.Lock()
	delete(h.conns, conn)
	h.mutex.Unlock()
	h.wg.Done()
}

func (h *Hub) reject(conn Conn, reason string) {
	if err := conn.WriteFrame(chat.SystemMessage(reason).Format()); err != nil && !isExpectedCloseError(err) {
		log.Debug().Err(err).Str("addr", conn.RemoteAddr()).Msg("failed to write rejection")
	}
	_ = conn.Close()
}

func (h *Hub) track(s *Session) {
	h.mutex.Lock()
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.mutex.Unlock()
	s.log.Debug().Int("sessions", count).Msg("session registered")
}

func (h *Hub) untrack(s *Session) {
	h.mutex.Lock()
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mutex.Unlock()
	s.log.Debug().Int("sessions", count).Msg("session unregistered")
}

// Broadcast delivers msg to every session registered in roomName at the time
// of the call and returns how many copies were queued. Broadcasts to one room
// never interleave. A member whose outbound queue is full is disconnected in
// the background; its own session performs the cleanup.
func (h *Hub) Broadcast(roomName string, msg chat.Message) int {
	rm := h.rooms.room(roomName)
	rm.order.Lock()
	defer rm.order.Unlock()
	return h.fanOut(roomName, msg)
}

// Publish broadcasts a chat message and appends it to the room's log while
// holding the room's broadcast order, so the stored order matches the order
// members saw.
func (h *Hub) Publish(ctx context.Context, roomName string, msg chat.Message) error {
	rm := h.rooms.room(roomName)
	rm.order.Lock()
	defer rm.order.Unlock()

	h.fanOut(roomName, msg)
	if err := h.store.StoreMessage(ctx, roomName, msg); err != nil {
		return fmt.Errorf("publish to %q: %w", roomName, err)
	}
	return nil
}

// inRoomOrder runs fn while no broadcast to roomName can start or be in
// progress.
func (h *Hub) inRoomOrder(roomName string, fn func() error) error {
	rm := h.rooms.room(roomName)
	rm.order.Lock()
	defer rm.order.Unlock()
	return fn()
}

func (h *Hub) fanOut(roomName string, msg chat.Message) int {
	frame := msg.Format()
	members := h.rooms.MembersOf(roomName)

	delivered := 0
	var slow []*Session
	for _, member := range members {
		// A member that is mid-switch may still be listed for an instant.
		if member.CurrentRoom() != roomName {
			continue
		}
		switch member.trySend(frame) {
		case sendOK:
			delivered++
		case sendFull:
			slow = append(slow, member)
		case sendClosed:
		}
	}

	for _, member := range slow {
		member.log.Warn().Str("room", roomName).Msg("outbound queue full; disconnecting slow session")
		go member.close()
	}

	log.Debug().
		Str("room", roomName).
		Str("kind", msg.Kind.String()).
		Int("members", len(members)).
		Int("delivered", delivered).
		Msg("broadcast")
	return delivered
}

// shutdownConnections closes every live connection, logged in or not. Each
// session then leaves its room and announces the departure on its own
// goroutine.
func (h *Hub) shutdownConnections() int {
	h.mutex.RLock()
	conns := make([]Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mutex.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Debug().Err(err).Str("addr", conn.RemoteAddr()).Msg("error closing client connection")
		}
	}
	return len(conns)
}

// Shutdown stops accepting sessions, closes every connection and waits for
// all session goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("initiating hub shutdown")

	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()
	h.cancel()

	closed := h.shutdownConnections()
	log.Info().Int("connections", closed).Msg("closed client connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
