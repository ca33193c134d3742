package relay

import (
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Enough for SDP with many candidates.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// frame is one queued write. A non-zero code closes the socket with it.
type frame struct {
	data   []byte
	code   int
	reason string
}

// Client is one participant socket.
type Client struct {
	ID     string
	Name   string
	RoomID string

	hub  *Hub
	conn *websocket.Conn
	send chan frame
	log  zerolog.Logger

	// closing is set by the hub once a close frame is queued.
	closing bool
}

func newClient(hub *Hub, conn *websocket.Conn, id, name, roomID string) *Client {
	return &Client{
		ID:     id,
		Name:   name,
		RoomID: roomID,
		hub:    hub,
		conn:   conn,
		send:   make(chan frame, sendBuffer),
		log:    hub.log.With().Str("client", id).Str("room", roomID).Logger(),
	}
}

// push queues f without blocking. Only the hub calls it.
func (c *Client) push(f frame) {
	if c.closing {
		return
	}
	if f.code != 0 {
		c.closing = true
	}
	select {
	case c.send <- f:
	default:
		c.log.Warn().Msg("send buffer full, dropping frame")
	}
}

// readPump forwards frames to the hub until the socket fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		msg, err := signaling.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		select {
		case c.hub.inbound <- inbound{client: c, msg: msg}:
		case <-c.hub.quit:
			return
		}
	}
}

// writePump serializes writes and pings the participant.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if f.code != 0 {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
