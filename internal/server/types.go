// Package server defines the transport abstraction shared by the TCP and
// WebSocket front ends, plus small helpers reused across session and hub logic.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/wire"
)

// Conn is one client connection carrying whole protocol frames. ReadFrame is
// only called from the session goroutine and WriteFrame only from its writer.
// Close may be called from anywhere, any number of times.
type Conn interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	Close() error
	RemoteAddr() string
}

// tcpConn applies idle and write deadlines to a line-framed TCP stream.
type tcpConn struct {
	conn         *wire.Conn
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

func newTCPConn(c net.Conn, cfg Config) *tcpConn {
	return &tcpConn{
		conn:         wire.NewConn(c, int(cfg.MaxMessageSize)),
		idleTimeout:  cfg.IdleTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (c *tcpConn) ReadFrame() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
		return "", connectionLost(err)
	}
	frame, err := c.conn.ReadFrame()
	if err != nil {
		return "", connectionLost(err)
	}
	return frame, nil
}

func (c *tcpConn) WriteFrame(frame string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return connectionLost(err)
	}
	if err := c.conn.WriteFrame(frame); err != nil {
		return connectionLost(err)
	}
	return nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

// connectionLost tags a transport error so callers can match chat.ConnectionLost.
func connectionLost(err error) error {
	if errors.Is(err, chat.ConnectionLost) {
		return err
	}
	return fmt.Errorf("%w: %w", chat.ConnectionLost, err)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
