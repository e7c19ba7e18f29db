// Package client speaks the chat protocol from the connecting side. It is
// used by the terminal client and by the server's end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/gate"
	"github.com/Tyrowin/roomchat/internal/wire"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: connection closed")
	// ErrJoinRejected is returned by WaitHistory when the server refused the
	// latest join. The server is back at room selection.
	ErrJoinRejected = errors.New("client: join rejected by server")
)

// Client is a connected chat client. Messages delivers every server frame
// except the end-of-history marker, which opens the history gate instead.
type Client struct {
	conn     *wire.Conn
	incoming chan string
	history  *gate.Gate
	rejected *gate.Gate

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to a chat server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", chat.ConnectionLost, addr, err)
	}
	return New(conn, wire.DefaultMaxFrame), nil
}

// New wraps an established connection and starts reading from it.
func New(conn net.Conn, maxFrame int) *Client {
	c := &Client{
		conn:     wire.NewConn(conn, maxFrame),
		incoming: make(chan string, 256),
		history:  gate.New(),
		rejected: gate.New(),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		if frame == chat.EndHistory {
			c.history.Open()
			continue
		}
		if chat.IsJoinRejection(frame) {
			c.rejected.Open()
		}
		select {
		case c.incoming <- frame:
		case <-c.done:
			return
		}
	}
}

// Messages yields formatted server messages. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan string {
	return c.incoming
}

// Err reports why the read side stopped, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Login sends the username after validating it locally.
func (c *Client) Login(username string) error {
	if err := chat.ValidateUsername(username); err != nil {
		return err
	}
	return c.write(username)
}

// JoinGlobal enters the global room.
func (c *Client) JoinGlobal() error {
	return c.Join(chat.Global, "", time.Time{})
}

// JoinPrivate enters the named private room, claiming at as the join time.
func (c *Client) JoinPrivate(group string, at time.Time) error {
	return c.Join(chat.Private, group, at)
}

// Join sends a room selection. The history gate is re-armed so WaitHistory
// blocks until this join's replay has been received.
func (c *Client) Join(kind chat.RoomKind, group string, at time.Time) error {
	switch kind {
	case chat.Global:
		c.rearm()
		return c.write(kind.String())
	case chat.Private:
		name, err := chat.ValidateGroupName(group)
		if err != nil {
			return err
		}
		if at.IsZero() {
			at = time.Now()
		}
		c.rearm()
		for _, frame := range []string{kind.String(), name, chat.FormatTimestamp(at)} {
			if err := c.write(frame); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: room kind %v", chat.InvalidRoomSelection, kind)
	}
}

func (c *Client) rearm() {
	c.history.Reset()
	c.rejected.Reset()
}

// WaitHistory blocks until the server has finished replaying history for the
// latest join, or returns ErrJoinRejected if the server refused it.
func (c *Client) WaitHistory(ctx context.Context) error {
	select {
	case <-c.history.C():
		return nil
	case <-c.rejected.C():
		return ErrJoinRejected
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HistoryDone reports whether the latest join's replay has completed.
func (c *Client) HistoryDone() bool {
	return c.history.IsOpen()
}

// Send posts a chat message. Empty text is refused locally and the switch
// command is recognised case-insensitively.
func (c *Client) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty message", chat.InvalidInput)
	}
	if strings.EqualFold(text, chat.SwitchCommand) {
		return c.Switch()
	}
	return c.write(text)
}

// Switch leaves the current room. A Join must follow.
func (c *Client) Switch() error {
	c.rearm()
	return c.write(chat.SwitchCommand)
}

// SendRaw writes a frame without any client-side validation.
func (c *Client) SendRaw(frame string) error {
	return c.write(frame)
}

func (c *Client) write(frame string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("%w: %w", chat.ConnectionLost, err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
