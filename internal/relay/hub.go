// Package relay is a development room server speaking the same protocol
// as the production signaling service. Rooms are created on first join.
package relay

import (
	"sync"

	"github.com/BioHazard786/huddle/internal/presenter"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns every room. All room state is touched only by Run.
type Hub struct {
	log           zerolog.Logger
	maxPresenters int

	rooms map[string]*Room
	// ended remembers rooms closed by their host so they cannot be rejoined.
	ended map[string]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub(maxPresenters int) *Hub {
	if maxPresenters <= 0 {
		maxPresenters = presenter.DefaultMaxPresenters
	}
	return &Hub{
		log:           log.With().Str("module", "relay").Logger(),
		maxPresenters: maxPresenters,
		rooms:         make(map[string]*Room),
		ended:         make(map[string]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inbound),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Run is the single goroutine that manages all rooms and clients.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			for _, room := range h.rooms {
				for _, c := range room.clients {
					c.conn.Close()
				}
			}
			return

		case c := <-h.register:
			h.join(c)

		case c := <-h.unregister:
			h.leave(c)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)
		}
	}
}

// Stop ends Run and drops every socket.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// Register hands a freshly upgraded client to the hub. It reports false
// once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) encode(msg *signaling.Message) []byte {
	data, err := msg.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("encode failed")
		return nil
	}
	return data
}

func (h *Hub) sendTo(c *Client, msg *signaling.Message) {
	if data := h.encode(msg); data != nil {
		c.push(frame{data: data})
	}
}

// broadcast sends msg to everyone in room except skip.
func (h *Hub) broadcast(room *Room, msg *signaling.Message, skip string) {
	data := h.encode(msg)
	if data == nil {
		return
	}
	for _, id := range room.order {
		if id != skip {
			room.clients[id].push(frame{data: data})
		}
	}
}

func (h *Hub) join(c *Client) {
	if h.ended[c.RoomID] {
		c.log.Info().Msg("join to ended room refused")
		c.push(frame{code: signaling.CloseRoomEnded, reason: "room ended"})
		return
	}
	room, ok := h.rooms[c.RoomID]
	if !ok {
		room = newRoom(c.RoomID)
		h.rooms[c.RoomID] = room
		c.log.Info().Msg("room created")
	}
	room.add(c)
	isHost := room.HostID == c.ID
	c.log.Info().Str("name", c.Name).Bool("host", isHost).Int("participants", len(room.clients)).Msg("joined")

	h.broadcast(room, &signaling.Message{
		Type:         signaling.TypeUserJoined,
		UserID:       c.ID,
		Username:     c.Name,
		IsHost:       isHost,
		Participants: room.participants(),
	}, c.ID)

	state := &signaling.Message{
		Type:         signaling.TypeRoomState,
		RoomID:       room.ID,
		RoomName:     room.ID,
		HostID:       room.HostID,
		IsHost:       isHost,
		UserID:       c.ID,
		Username:     c.Name,
		Participants: room.participants(),
	}
	state.SetPresenters(room.snapshot())
	h.sendTo(c, state)
}

func (h *Hub) leave(c *Client) {
	defer close(c.send)

	room, ok := h.rooms[c.RoomID]
	if !ok || room.clients[c.ID] != c {
		return
	}
	wasPresenting := room.presenting(c.ID)
	room.remove(c.ID)
	c.log.Info().Int("participants", len(room.clients)).Msg("left")

	if room.empty() {
		delete(h.rooms, room.ID)
		c.log.Info().Msg("room deleted")
		return
	}
	if wasPresenting {
		stopped := &signaling.Message{Type: signaling.TypeScreenShareStopped, UserID: c.ID}
		stopped.SetPresenters(room.snapshot())
		h.broadcast(room, stopped, "")
	}
	h.broadcast(room, &signaling.Message{
		Type:         signaling.TypeUserLeft,
		UserID:       c.ID,
		Username:     c.Name,
		Participants: room.participants(),
	}, "")
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	room, ok := h.rooms[c.RoomID]
	if !ok || room.clients[c.ID] != c {
		return
	}

	switch msg.Type {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate,
		signaling.TypeRequestOffer, signaling.TypeViewerAudioOffer, signaling.TypeViewerAudioAnswer:
		h.relay(room, c, msg)

	case signaling.TypeViewerAudioStopped,
		signaling.TypeAnnotation, signaling.TypeFileShared,
		signaling.TypeWhiteboardDraw, signaling.TypeWhiteboardClear,
		signaling.TypeWhiteboardStarted, signaling.TypeWhiteboardStopped:
		out := *msg
		out.From, out.UserID, out.Target = c.ID, c.ID, ""
		h.broadcast(room, &out, c.ID)

	case signaling.TypeChat:
		h.broadcast(room, &signaling.Message{
			Type:      signaling.TypeChat,
			UserID:    c.ID,
			Username:  c.Name,
			Message:   msg.Message,
			Timestamp: msg.Timestamp,
		}, "")

	case signaling.TypeScreenShareStarted:
		if !room.startPresenting(c, msg.ShareType, h.maxPresenters) {
			c.log.Info().Int("max", h.maxPresenters).Msg("share refused, presenter limit")
			h.sendTo(c, &signaling.Message{Type: signaling.TypeError, Error: "presenter limit reached"})
			return
		}
		started := &signaling.Message{Type: signaling.TypeScreenShareStarted, UserID: c.ID, Username: c.Name, ShareType: msg.ShareType}
		started.SetPresenters(room.snapshot())
		h.broadcast(room, started, c.ID)

	case signaling.TypeScreenShareStopped:
		if !room.stopPresenting(c.ID) {
			return
		}
		stopped := &signaling.Message{Type: signaling.TypeScreenShareStopped, UserID: c.ID}
		stopped.SetPresenters(room.snapshot())
		h.broadcast(room, stopped, c.ID)

	case signaling.TypeKickUser:
		h.kick(room, c, msg.Target)

	case signaling.TypeEndRoom:
		h.endRoom(room, c)

	case signaling.TypePing:
		h.sendTo(c, &signaling.Message{Type: signaling.TypePong})

	default:
		c.log.Debug().Str("type", msg.Type).Msg("unknown message type")
	}
}

// relay forwards a targeted frame with the sender stamped in from. A
// request_offer without target goes to the host.
func (h *Hub) relay(room *Room, c *Client, msg *signaling.Message) {
	target := msg.Target
	if target == "" && msg.Type == signaling.TypeRequestOffer {
		target = room.HostID
	}
	dst, ok := room.clients[target]
	if !ok || target == c.ID {
		c.log.Debug().Str("type", msg.Type).Str("target", target).Msg("relay target not in room")
		return
	}
	out := *msg
	out.From, out.Target = c.ID, ""
	if out.Type == signaling.TypeRequestOffer {
		out.Username = c.Name
	}
	h.sendTo(dst, &out)
}

func (h *Hub) kick(room *Room, c *Client, target string) {
	if room.HostID != c.ID {
		h.sendTo(c, &signaling.Message{Type: signaling.TypeError, Error: "only the host can remove participants"})
		return
	}
	dst, ok := room.clients[target]
	if !ok || target == c.ID {
		return
	}
	c.log.Info().Str("target", target).Msg("kicking participant")
	h.sendTo(dst, &signaling.Message{Type: signaling.TypeKicked, Reason: "removed by host"})
	dst.push(frame{code: signaling.CloseKicked, reason: "kicked"})
}

func (h *Hub) endRoom(room *Room, c *Client) {
	if room.HostID != c.ID {
		h.sendTo(c, &signaling.Message{Type: signaling.TypeError, Error: "only the host can end the room"})
		return
	}
	c.log.Info().Msg("room ended by host")
	h.broadcast(room, &signaling.Message{Type: signaling.TypeRoomEnded, Reason: "host ended the room"}, "")
	for _, other := range room.clients {
		other.push(frame{code: signaling.CloseRoomEnded, reason: "room ended"})
	}
	h.ended[room.ID] = true
	delete(h.rooms, room.ID)
}
