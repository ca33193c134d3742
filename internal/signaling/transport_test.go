package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeEvent struct {
	code   int
	reason string
}

func echoServer(t *testing.T, onConn func(*websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	url := echoServer(t, func(c *websocket.Conn) {
		defer c.Close()
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			c.WriteMessage(mt, data)
		}
	})

	got := make(chan []byte, 1)
	closed := make(chan closeEvent, 1)
	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	conn, err := d.Dial(context.Background(), url, Events{
		OnMessage: func(data []byte) { got <- data },
		OnClose:   func(code int, reason string) { closed <- closeEvent{code, reason} },
	})
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte(`{"type":"ping"}`)))
	select {
	case data := <-got:
		assert.JSONEq(t, `{"type":"ping"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, conn.Close(CloseNormal, "bye"))
	select {
	case ev := <-closed:
		assert.Equal(t, CloseNormal, ev.code)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
	assert.ErrorIs(t, conn.Send([]byte(`{}`)), ErrClosed)
}

func TestWebSocketRemoteCloseCode(t *testing.T) {
	url := echoServer(t, func(c *websocket.Conn) {
		msg := websocket.FormatCloseMessage(CloseRoomEnded, "Room not found or ended")
		c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Close()
	})

	closed := make(chan closeEvent, 1)
	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), url, Events{
		OnClose: func(code int, reason string) { closed <- closeEvent{code, reason} },
	})
	require.NoError(t, err)

	select {
	case ev := <-closed:
		assert.Equal(t, CloseRoomEnded, ev.code)
		assert.Equal(t, "Room not found or ended", ev.reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no close event")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), Events{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
