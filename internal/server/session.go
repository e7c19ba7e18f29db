package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/gate"
)

// Phase is the position of a session in the join protocol.
type Phase int

const (
	AwaitingRoomSelection Phase = iota
	AwaitingPrivateGroupName
	AwaitingJoinTimestamp
	Active
)

func (p Phase) String() string {
	switch p {
	case AwaitingRoomSelection:
		return "awaiting-room-selection"
	case AwaitingPrivateGroupName:
		return "awaiting-private-group-name"
	case AwaitingJoinTimestamp:
		return "awaiting-join-timestamp"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

// Session is the server side of one logged-in connection. Only the session's
// own goroutine drives the protocol; the hub reads CurrentRoom and queues
// frames through trySend.
type Session struct {
	id      string
	name    string
	conn    Conn
	hub     *Hub
	log     zerolog.Logger
	limiter *rateLimiter

	send      chan string
	done      chan struct{}
	closeOnce sync.Once
	ready     *gate.Gate

	mu           sync.RWMutex
	phase        Phase
	room         string
	kind         chat.RoomKind
	pendingGroup string
}

func newSession(h *Hub, conn Conn, name string) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		name:    name,
		conn:    conn,
		hub:     h,
		log:     log.With().Str("session", id).Str("user", name).Str("addr", conn.RemoteAddr()).Logger(),
		limiter: newRateLimiter(h.cfg.RateLimit.Burst, h.cfg.RateLimit.RefillInterval),
		send:    make(chan string, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		ready:   gate.New(),
		phase:   AwaitingRoomSelection,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the username the session logged in with.
func (s *Session) Name() string { return s.name }

// CurrentRoom returns the joined room, or "" between rooms.
func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// RoomKind returns the kind of the joined room. Only meaningful while Active.
func (s *Session) RoomKind() chat.RoomKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kind
}

// Phase returns the current protocol phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Ready is closed once the current join has replayed history and registered
// the session. A switch arms a fresh channel.
func (s *Session) Ready() <-chan struct{} {
	return s.ready.C()
}

// Done is closed when the session's connection has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// run drives the protocol until the connection fails. The session leaves its
// room and announces the departure however it ends.
func (s *Session) run(ctx context.Context) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()
	defer func() {
		s.teardown()
		<-writerDone
	}()

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			return connectionLost(err)
		}
		if err := s.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

// handleFrame advances the state machine by one inbound frame. Recoverable
// input errors are reported to the client and leave the phase unchanged; the
// returned error is always fatal to the session.
func (s *Session) handleFrame(ctx context.Context, frame string) error {
	switch s.Phase() {
	case AwaitingRoomSelection:
		kind, err := chat.ParseRoomKind(frame)
		if err != nil {
			s.log.Info().Str("token", frame).Msg("invalid room selection")
			return s.notify(ctx, fmt.Sprintf("unknown room type %q, choose GLOBAL or PRIVATE", strings.TrimSpace(frame)))
		}
		switch kind {
		case chat.Global:
			return s.join(ctx, chat.Global, chat.GlobalRoom, time.Time{})
		case chat.Private:
			s.setPhase(AwaitingPrivateGroupName)
			return nil
		default:
			return fmt.Errorf("unhandled room kind %v", kind)
		}

	case AwaitingPrivateGroupName:
		group, err := chat.ValidateGroupName(frame)
		if err != nil {
			s.log.Info().Err(err).Msg("invalid group name")
			return s.notify(ctx, "group name must be non-empty and must not be GLOBAL or PRIVATE")
		}
		s.mu.Lock()
		s.pendingGroup = group
		s.phase = AwaitingJoinTimestamp
		s.mu.Unlock()
		return nil

	case AwaitingJoinTimestamp:
		claimed, err := chat.ParseTimestamp(frame)
		if err != nil {
			s.log.Info().Err(err).Msg("invalid join timestamp")
			return s.notify(ctx, "join timestamp must look like "+chat.TimestampLayout)
		}
		s.mu.RLock()
		group := s.pendingGroup
		s.mu.RUnlock()
		return s.join(ctx, chat.Private, group, claimed)

	case Active:
		return s.handleActive(ctx, frame)

	default:
		return fmt.Errorf("session in unknown phase %v", s.Phase())
	}
}

func (s *Session) handleActive(ctx context.Context, frame string) error {
	// Input is only accepted once the join that made us active has finished.
	select {
	case <-s.ready.C():
	default:
		s.log.Warn().Msg("dropping input received before join completed")
		return nil
	}

	text := strings.TrimSpace(frame)
	switch {
	case text == "":
		s.log.Debug().Msg("ignoring empty message")
		return nil
	case text == chat.SwitchCommand:
		s.leave()
		return nil
	}

	if !s.limiter.allow() {
		s.log.Warn().
			Int("burst", s.hub.cfg.RateLimit.Burst).
			Dur("interval", s.hub.cfg.RateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return s.notify(ctx, "you are sending messages too fast; message discarded")
	}

	room := s.CurrentRoom()
	msg := chat.ChatMessage(s.name, text, time.Now())
	if err := s.hub.Publish(ctx, room, msg); err != nil {
		// The message already reached the room; only history lost it.
		s.log.Error().Err(err).Str("room", room).Msg("failed to persist message")
	}
	return nil
}

// join runs the join procedure for group. Persistence is consulted first so a
// join that cannot be served is rejected before anyone is told about it.
func (s *Session) join(ctx context.Context, kind chat.RoomKind, group string, claimed time.Time) error {
	st := s.hub.store

	var since time.Time
	if kind == chat.Private {
		at, err := st.UserJoinTimestamp(ctx, s.name, group, claimed)
		if err != nil {
			return s.rejectJoin(ctx, group, err)
		}
		since = at
	}
	if err := st.CreateRoom(ctx, group); err != nil {
		return s.rejectJoin(ctx, group, err)
	}

	s.hub.Broadcast(group, chat.JoinNotice(s.name, group))
	s.hub.rooms.EnsureRoom(group)

	// Replay and registration hold the room's broadcast order, so every chat
	// message reaches the joiner exactly once: from history or live.
	replayed := 0
	err := s.hub.inRoomOrder(group, func() error {
		err := st.ReplayHistory(ctx, group, since, func(m chat.Message) error {
			replayed++
			return s.deliver(ctx, m.Format())
		})
		if err != nil {
			return err
		}
		if err := s.deliver(ctx, chat.EndHistory); err != nil {
			return err
		}

		s.mu.Lock()
		s.room = group
		s.kind = kind
		s.phase = Active
		s.mu.Unlock()
		s.hub.rooms.AddMember(group, s)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, chat.ConnectionLost), ctx.Err() != nil:
		return err
	default:
		return s.rejectJoin(ctx, group, err)
	}
	s.ready.Open()

	s.log.Info().Str("room", group).Str("kind", kind.String()).Int("history", replayed).Msg("joined room")
	return nil
}

func (s *Session) rejectJoin(ctx context.Context, group string, cause error) error {
	s.log.Error().Err(cause).Str("room", group).Msg("join rejected")
	s.setPhase(AwaitingRoomSelection)
	return s.deliver(ctx, chat.JoinRejected(group).Format())
}

// leave deregisters the session from its room and announces the departure
// to the members that remain. It is a no-op between rooms.
func (s *Session) leave() {
	s.ready.Reset()

	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == "" {
		s.setPhase(AwaitingRoomSelection)
		return
	}

	removed := s.hub.rooms.RemoveMember(room, s)

	s.mu.Lock()
	s.room = ""
	s.phase = AwaitingRoomSelection
	s.mu.Unlock()

	if removed {
		s.hub.Broadcast(room, chat.LeaveNotice(s.name, room))
	}
	s.log.Info().Str("room", room).Msg("left room")
}

func (s *Session) teardown() {
	s.leave()
	s.close()
}

// close stops the writer and closes the connection. Safe to call from any
// goroutine, any number of times.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error closing connection")
		}
	})
}

// trySend queues a frame without blocking.
func (s *Session) trySend(frame string) sendResult {
	select {
	case <-s.done:
		return sendClosed
	default:
	}
	select {
	case s.send <- frame:
		return sendOK
	default:
		return sendFull
	}
}

// deliver queues a frame addressed to this session alone, waiting up to the
// write timeout for room in the queue.
func (s *Session) deliver(ctx context.Context, frame string) error {
	timer := time.NewTimer(s.hub.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: session closed", chat.ConnectionLost)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.close()
		return fmt.Errorf("%w: outbound queue stalled", chat.ConnectionLost)
	}
}

func (s *Session) notify(ctx context.Context, text string) error {
	return s.deliver(ctx, chat.SystemMessage(text).Format())
}

func (s *Session) writePump() {
	for {
		select {
		case frame := <-s.send:
			if err := s.conn.WriteFrame(frame); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Warn().Err(err).Msg("write failed")
				}
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}
