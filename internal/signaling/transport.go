package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/huddle/internal/dns"
	"github.com/BioHazard786/huddle/internal/version"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Events are the transport callbacks. They run on the transport's reader
// goroutine, so implementations hand them off instead of doing work inline.
// OnClose fires exactly once per connection.
type Events struct {
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Conn is an open signaling transport.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a transport. A nil error means the transport is open.
type Dialer interface {
	Dial(ctx context.Context, url string, ev Events) (Conn, error)
}

// WebSocketDialer dials the room socket with gorilla/websocket.
type WebSocketDialer struct {
	Resolver         *dns.Resolver
	HandshakeTimeout time.Duration
}

// NewWebSocketDialer returns a dialer using the public-DNS fallback resolver.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Resolver: dns.NewResolver(), HandshakeTimeout: 10 * time.Second}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, ev Events) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if d.Resolver != nil {
		dialer.NetDialContext = d.Resolver.DialContext
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, WrapError("dial", err, fmt.Sprintf("status %d", resp.StatusCode))
		}
		return nil, NewError("dial", err)
	}
	return newWSConn(conn, ev), nil
}

type wsConn struct {
	conn *websocket.Conn
	ev   Events

	out  chan []byte
	done chan struct{}
	once sync.Once

	// localCode is the close code we sent, reported instead of the read error.
	localCode atomic.Int32
	reason    atomic.Value
}

func newWSConn(conn *websocket.Conn, ev Events) *wsConn {
	c := &wsConn{
		conn: conn,
		ev:   ev,
		out:  make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c
}

// Send queues a text frame. It never blocks.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and tears the connection down.
func (c *wsConn) Close(code int, reason string) error {
	c.localCode.CompareAndSwap(0, int32(code))
	c.reason.Store(reason)
	c.shutdown()
	return nil
}

func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// readPump delivers inbound frames until the socket fails or is closed.
func (c *wsConn) readPump() {
	code, reason := CloseAbnormal, ""
	defer func() {
		c.shutdown()
		c.conn.Close()
		if local := int(c.localCode.Load()); local != 0 {
			code = local
			reason, _ = c.reason.Load().(string)
		}
		if c.ev.OnClose != nil {
			c.ev.OnClose(code, reason)
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			} else if c.localCode.Load() == 0 {
				log.Debug().Str("module", "signaling").Err(err).Msg("read failed")
				if c.ev.OnError != nil {
					c.ev.OnError(NewError("read", err))
				}
			}
			return
		}
		if c.ev.OnMessage != nil {
			c.ev.OnMessage(data)
		}
	}
}

// writePump serializes writes and keeps the socket alive with pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Str("module", "signaling").Err(err).Msg("write failed")
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			if code := int(c.localCode.Load()); code != 0 {
				reason, _ := c.reason.Load().(string)
				msg := websocket.FormatCloseMessage(code, reason)
				c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}
