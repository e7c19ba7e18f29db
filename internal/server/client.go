// Package server adapts WebSocket connections to the session transport,
// handling keepalive pings, read limits, and close classification.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsConn carries one protocol frame per WebSocket text message.
type wsConn struct {
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64
	writeTimeout   time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// newWSConn configures read limits and keepalive on an upgraded connection.
func newWSConn(conn *websocket.Conn, addr string, cfg Config) *wsConn {
	c := &wsConn{
		conn:           conn,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		writeTimeout:   cfg.WriteTimeout,
		done:           make(chan struct{}),
	}
	conn.SetReadLimit(cfg.MaxMessageSize)
	c.setupReadConnection()
	go c.pingLoop()
	return c
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *wsConn) ReadFrame() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.logReadError(err)
		return "", connectionLost(err)
	}
	return string(data), nil
}

// logReadError logs read failures at a level matching how expected they are.
func (c *wsConn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Str("addr", c.addr).Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Debug().Err(err).Str("addr", c.addr).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Debug().Err(err).Str("addr", c.addr).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Warn().Err(err).Str("addr", c.addr).Msg("unexpected WebSocket close")
	default:
		log.Warn().Err(err).Str("addr", c.addr).Msg("WebSocket read error")
	}
}

func (c *wsConn) WriteFrame(frame string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return connectionLost(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return connectionLost(err)
	}
	return nil
}

// Close sends a close frame when possible and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil && !isExpectedCloseError(werr) {
			log.Debug().Err(werr).Str("addr", c.addr).Msg("error writing close message")
		}
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.addr
}

// pingLoop keeps the pong-driven read deadline alive. WriteControl may run
// concurrently with the session writer.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug().Err(err).Str("addr", c.addr).Msg("error writing ping message")
				}
				return
			}
		case <-c.done:
			return
		}
	}
}
