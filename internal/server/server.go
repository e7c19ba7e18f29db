// Package server implements the TCP chat listener: one goroutine per accepted
// connection, each handed to the Hub.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ChatServer accepts line-framed TCP connections for a Hub.
type ChatServer struct {
	hub *Hub

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewChatServer creates a listener front end for hub.
func NewChatServer(hub *Hub) *ChatServer {
	return &ChatServer{hub: hub}
}

// Listen binds the configured chat address. Useful when the caller needs
// the bound address (port 0) before Serve starts.
func (s *ChatServer) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.hub.cfg.ChatAddr)
}

// ListenAndServe binds the configured address and serves until Close.
func (s *ChatServer) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called. It returns nil after
// a clean Close.
func (s *ChatServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		log.Debug().Str("addr", conn.RemoteAddr().String()).Msg("accepted connection")
		go func() {
			_ = s.hub.Serve(newTCPConn(conn, s.hub.cfg))
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (s *ChatServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Addr returns the bound address, or nil before Serve.
func (s *ChatServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections. Live sessions are closed by the Hub's
// Shutdown.
func (s *ChatServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Shutdown closes the listener and then the hub, bounded by the configured
// shutdown timeout or ctx, whichever ends first.
func (s *ChatServer) Shutdown(ctx context.Context) error {
	if err := s.Close(); err != nil && !isExpectedCloseError(err) {
		log.Warn().Err(err).Msg("error closing chat listener")
	}

	timeout := s.hub.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return s.hub.Shutdown(timeout)
}
