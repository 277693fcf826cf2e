// Package signal is the client side of the relay protocol over WebSocket.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signal connection closed")
)

// Endpoint turns a server base URL into the WebSocket join URL.
// http and https map to ws and wss.
func Endpoint(serverURL string, room domain.RoomName, user domain.UserID) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("room", string(room))
	q.Set("userId", string(user))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dialer opens relay connections. It implements core.SignalDialer.
type Dialer struct {
	SendBuffer int
	PingPeriod time.Duration
	ReadLimit  int64
	WS         *websocket.Dialer
}

func NewDialer() *Dialer {
	return &Dialer{
		SendBuffer: 32,
		PingPeriod: 25 * time.Second,
		ReadLimit:  64 << 10,
		WS:         websocket.DefaultDialer,
	}
}

func (d *Dialer) Dial(ctx context.Context, serverURL string, room domain.RoomName, user domain.UserID) (core.SignalConn, error) {
	endpoint, err := Endpoint(serverURL, room, user)
	if err != nil {
		return nil, err
	}
	ws, resp, err := d.WS.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	ws.SetReadLimit(d.ReadLimit)
	log.Info().Str("module", "signal").Str("endpoint", endpoint).Msg("connected")
	return newConn(ws, d.SendBuffer, d.PingPeriod), nil
}

// Conn is one live relay connection. It implements core.SignalConn.
type Conn struct {
	conn       *websocket.Conn
	send       chan []byte
	pingPeriod time.Duration
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
	served bool
}

func newConn(ws *websocket.Conn, buffer int, pingPeriod time.Duration) *Conn {
	if buffer <= 0 {
		buffer = 32
	}
	return &Conn{
		conn:       ws,
		send:       make(chan []byte, buffer),
		pingPeriod: pingPeriod,
		done:       make(chan struct{}),
	}
}

// Serve starts the pumps. Only the first call has an effect.
func (c *Conn) Serve(h core.SignalHandler) {
	c.mu.Lock()
	if c.served || c.closed {
		c.mu.Unlock()
		return
	}
	c.served = true
	c.mu.Unlock()

	go c.writePump()
	go c.readPump(h)
}

func (c *Conn) SendSignal(target domain.SocketID, blob domain.SignalBlob) error {
	return c.sendJSON(domain.SignalMessage{Type: domain.MsgSignal, TargetID: target, Signal: blob})
}

func (c *Conn) SendMediaToggle(t domain.MediaToggle) error {
	return c.sendJSON(domain.ToggleMessage{Type: domain.MsgMediaToggle, MediaToggle: t})
}

func (c *Conn) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.TrySend(b)
}

// TrySend queues a frame without blocking.
func (c *Conn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close ends the connection without reporting a disconnect. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
	log.Info().Str("module", "signal").Msg("connection closed")
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
