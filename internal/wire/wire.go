// Package wire frames the chat protocol over a byte stream. A frame is one
// line of UTF-8 text terminated by '\n'; a trailing '\r' is dropped.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultMaxFrame is the read limit used when a caller passes zero.
const DefaultMaxFrame = 2048

// ErrFrameTooLong is returned when a peer sends a line longer than the limit.
// The stream cannot be resynchronised afterwards.
var ErrFrameTooLong = errors.New("wire: frame exceeds maximum size")

// Conn reads and writes frames on a net.Conn. Reads must come from a single
// goroutine; writes are serialised internally.
type Conn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

// NewConn wraps c, refusing inbound frames longer than maxFrame bytes.
func NewConn(c net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	scanner := bufio.NewScanner(c)
	// +2 leaves room for the terminator so maxFrame bytes of payload fit.
	scanner.Buffer(make([]byte, 0, min(maxFrame+2, 4096)), maxFrame+2)
	scanner.Split(bufio.ScanLines)
	return &Conn{conn: c, scanner: scanner}
}

// ReadFrame blocks for the next frame. It returns io.EOF on a clean close.
func (c *Conn) ReadFrame() (string, error) {
	if c.scanner.Scan() {
		return c.scanner.Text(), nil
	}
	err := c.scanner.Err()
	switch {
	case err == nil:
		return "", io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return "", ErrFrameTooLong
	default:
		return "", err
	}
}

// WriteFrame writes s as one frame. Line breaks inside s are flattened to
// spaces so they cannot split the frame.
func (c *Conn) WriteFrame(s string) error {
	line := Sanitize(s) + "\n"

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.conn, line); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// SetReadDeadline bounds the next ReadFrame.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds subsequent WriteFrame calls.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Sanitize replaces CR and LF with spaces.
func Sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}
