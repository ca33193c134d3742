package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message type constants.
const (
	TypeRoomState          = "room_state"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeRequestOffer       = "request_offer"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice_candidate"
	TypeScreenShareStarted = "screen_share_started"
	TypeScreenShareStopped = "screen_share_stopped"
	TypeError              = "error"
	TypeChat               = "chat"
	TypeAnnotation         = "annotation"
	TypeFileShared         = "file_shared"
	TypeWhiteboardDraw     = "whiteboard_draw"
	TypeWhiteboardClear    = "whiteboard_clear"
	TypeWhiteboardStarted  = "whiteboard_started"
	TypeWhiteboardStopped  = "whiteboard_stopped"
	TypeViewerAudioOffer   = "viewer_audio_offer"
	TypeViewerAudioAnswer  = "viewer_audio_answer"
	TypeViewerAudioStopped = "viewer_audio_stopped"
	TypeKicked             = "kicked"
	TypeRoomEnded          = "room_ended"
	TypePing               = "ping"
	TypePong               = "pong"

	// Host commands, only honored by the relay for the room host.
	TypeKickUser = "kick_user"
	TypeEndRoom  = "end_room"
)

// Close codes used on the room socket.
const (
	CloseNormal       = 1000
	CloseAbnormal     = 1006
	CloseUnauthorized = 4001
	CloseKicked       = 4003
	CloseRoomEnded    = 4004
)

// Terminal reports whether a close code ends the session without retry.
func Terminal(code int) bool {
	switch code {
	case CloseNormal, CloseKicked, CloseRoomEnded:
		return true
	}
	return false
}

// Share kinds carried in share_type.
const (
	ShareScreen = "screen"
	ShareCamera = "camera"
)

// Participant is one entry of a participants snapshot.
type Participant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Presenter is one entry of a presenters snapshot.
type Presenter struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ShareType string `json:"share_type,omitempty"`
}

// Message is every frame exchanged on the room socket. Only the fields
// relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	From   string `json:"from,omitempty"`
	Target string `json:"target,omitempty"`

	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IsHost   bool   `json:"is_host,omitempty"`

	RoomID   string `json:"room_id,omitempty"`
	RoomName string `json:"room_name,omitempty"`
	HostID   string `json:"host_id,omitempty"`

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	ShareType string                     `json:"share_type,omitempty"`

	Participants []Participant `json:"participants,omitempty"`
	// Presenters is nil when the sender did not include a snapshot. A
	// present but empty list is authoritative.
	Presenters *[]Presenter `json:"presenters,omitempty"`

	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`

	Data        json.RawMessage `json:"data,omitempty"`
	SharedFiles json.RawMessage `json:"shared_files,omitempty"`
	File        json.RawMessage `json:"file,omitempty"`
}

// PresenterSnapshot returns the authoritative presenter list if the frame
// carried one.
func (m *Message) PresenterSnapshot() ([]Presenter, bool) {
	if m.Presenters == nil {
		return nil, false
	}
	return *m.Presenters, true
}

// SetPresenters attaches an authoritative presenter list, empty included.
func (m *Message) SetPresenters(p []Presenter) {
	if p == nil {
		p = []Presenter{}
	}
	m.Presenters = &p
}

// Sender returns the participant a frame originates from. Relayed frames
// carry from; membership and share events carry user_id, and the legacy
// single-host share events only carry host_id.
func (m *Message) Sender() string {
	switch {
	case m.From != "":
		return m.From
	case m.UserID != "":
		return m.UserID
	default:
		return m.HostID
	}
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, NewError("encode "+m.Type, err)
	}
	return data, nil
}

// Decode parses one frame. Frames without a type are rejected.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, WrapError("decode", ErrMalformed, err.Error())
	}
	if m.Type == "" {
		return nil, WrapError("decode", ErrMalformed, "missing type")
	}
	return &m, nil
}

func (m *Message) String() string {
	if m.Target != "" {
		return fmt.Sprintf("%s -> %s", m.Type, m.Target)
	}
	if s := m.Sender(); s != "" {
		return fmt.Sprintf("%s <- %s", m.Type, s)
	}
	return m.Type
}

// Outbox sends one message to the room.
type Outbox interface {
	Send(msg *Message) error
}

// OutboxFunc adapts a function to Outbox.
type OutboxFunc func(msg *Message) error

func (f OutboxFunc) Send(msg *Message) error {
	return f(msg)
}
