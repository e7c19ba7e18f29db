package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/wire"
)

const waitTimeout = 2 * time.Second

// pipe returns a client and the server end of an in-memory connection. Every
// frame the client writes is forwarded to the returned channel.
func pipe(t *testing.T) (*Client, *wire.Conn, <-chan string) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	c := New(clientSide, 0)
	srv := wire.NewConn(serverSide, 0)

	frames := make(chan string, 16)
	go func() {
		defer close(frames)
		for {
			frame, err := srv.ReadFrame()
			if err != nil {
				return
			}
			frames <- frame
		}
	}()

	t.Cleanup(func() {
		_ = c.Close()
		_ = srv.Close()
	})
	return c, srv, frames
}

func nextFrame(t *testing.T, frames <-chan string) string {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return ""
	}
}

func TestLoginValidatesLocally(t *testing.T) {
	c, _, frames := pipe(t)

	err := c.Login("not valid")
	assert.ErrorIs(t, err, chat.InvalidInput)

	require.NoError(t, c.Login("alice.b_2"))
	assert.Equal(t, "alice.b_2", nextFrame(t, frames))
}

func TestJoinPrivateSendsThreeFrames(t *testing.T) {
	c, _, frames := pipe(t)
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

	require.NoError(t, c.JoinPrivate(" team ", at))

	assert.Equal(t, "PRIVATE", nextFrame(t, frames))
	assert.Equal(t, "team", nextFrame(t, frames))
	assert.Equal(t, "2024-03-09 14:05:07", nextFrame(t, frames))
}

func TestJoinPrivateRejectsReservedNames(t *testing.T) {
	c, _, _ := pipe(t)

	for _, group := range []string{"", "  ", "global", "Private"} {
		assert.ErrorIs(t, c.JoinPrivate(group, time.Now()), chat.InvalidInput, "group %q", group)
	}
}

func TestHistoryGate(t *testing.T) {
	c, srv, frames := pipe(t)

	require.NoError(t, c.JoinGlobal())
	assert.Equal(t, "GLOBAL", nextFrame(t, frames))
	assert.False(t, c.HistoryDone())

	go func() {
		_ = srv.WriteFrame("[2024-01-01 00:00:00] [bob]: old")
		_ = srv.WriteFrame(chat.EndHistory)
		_ = srv.WriteFrame("[SYSTEM]: carol join to GLOBAL")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, c.WaitHistory(ctx))
	assert.True(t, c.HistoryDone())

	assert.Equal(t, "[2024-01-01 00:00:00] [bob]: old", <-c.Messages())
	assert.Equal(t, "[SYSTEM]: carol join to GLOBAL", <-c.Messages(), "the marker is never surfaced")

	require.NoError(t, c.Switch())
	assert.Equal(t, chat.SwitchCommand, nextFrame(t, frames))
	assert.False(t, c.HistoryDone(), "switching re-arms the gate")
}

func TestWaitHistoryHonoursContext(t *testing.T) {
	c, _, _ := pipe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitHistory(ctx), context.DeadlineExceeded)
}

func TestSend(t *testing.T) {
	c, _, frames := pipe(t)

	assert.ErrorIs(t, c.Send("   "), chat.InvalidInput)

	require.NoError(t, c.Send("  hello  "))
	assert.Equal(t, "hello", nextFrame(t, frames))

	require.NoError(t, c.Send("/SWITCH"))
	assert.Equal(t, "/switch", nextFrame(t, frames))
}

func TestClosedClient(t *testing.T) {
	c, _, _ := pipe(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send("hi"), ErrClosed)
	assert.ErrorIs(t, c.WaitHistory(context.Background()), ErrClosed)

	select {
	case _, ok := <-c.Messages():
		assert.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("messages channel was not closed")
	}
}

func TestWaitHistoryReportsRejectedJoin(t *testing.T) {
	c, srv, frames := pipe(t)

	require.NoError(t, c.JoinPrivate("team", time.Now()))
	for range 3 {
		nextFrame(t, frames)
	}
	go func() { _ = srv.WriteFrame(chat.JoinRejected("team").Format()) }()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	assert.ErrorIs(t, c.WaitHistory(ctx), ErrJoinRejected)
	assert.Equal(t, "[SYSTEM]: unable to join team right now, choose a room again", <-c.Messages())

	// A new join clears the rejection.
	require.NoError(t, c.JoinGlobal())
	assert.Equal(t, "GLOBAL", nextFrame(t, frames))
	go func() { _ = srv.WriteFrame(chat.EndHistory) }()
	require.NoError(t, c.WaitHistory(ctx))
}
