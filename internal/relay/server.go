package relay

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	// development server, any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config configures the HTTP side of the relay.
type Config struct {
	// Token, when set, is the only accepted credential. Otherwise any
	// non-empty token is accepted.
	Token      string
	ICEServers []webrtc.ICEServer
}

type server struct {
	hub *Hub
	cfg Config
}

// NewRouter serves the room socket, the relay configuration and a health
// check.
func NewRouter(hub *Hub, cfg Config) http.Handler {
	s := &server{hub: hub, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/ws/room/{roomID}", s.serveWs)
	r.Get("/api/rooms/ice-config", s.iceConfig)
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay is healthy."))
}

func (s *server) authorized(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return s.cfg.Token == "" || token == s.cfg.Token
}

func (s *server) serveWs(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	if !s.authorized(r.URL.Query().Get("token")) {
		s.hub.log.Info().Str("room", roomID).Str("remote", r.RemoteAddr).Msg("unauthorized join")
		msg := websocket.FormatCloseMessage(signaling.CloseUnauthorized, "unauthorized")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = guestName()
	}
	c := newClient(s.hub, conn, uuid.NewString(), name, roomID)
	if !s.hub.Register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type iceConfigResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (s *server) iceConfig(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || !s.authorized(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(iceConfigResponse{ICEServers: servers})
}

var (
	adjectives = []string{"sunny", "brave", "quiet", "lucky", "swift", "gentle", "clever", "happy", "bold", "calm"}
	animals    = []string{"otter", "panda", "fox", "koala", "heron", "lynx", "badger", "gecko", "puffin", "yak"}
)

// guestName picks a readable name like "brave-otter".
func guestName() string {
	return adjectives[randomIndex(len(adjectives))] + "-" + animals[randomIndex(len(animals))]
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
