package session

import (
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/presenter"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/supervisor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// EndReason tells why a session ended for good.
type EndReason int

const (
	EndedByUser EndReason = iota
	Kicked
	RoomEnded
	ReconnectExhausted
)

func (r EndReason) String() string {
	switch r {
	case EndedByUser:
		return "left"
	case Kicked:
		return "kicked"
	case RoomEnded:
		return "room ended"
	case ReconnectExhausted:
		return "connection lost"
	}
	return "unknown"
}

// RoomInfo describes the room as of the last room_state.
type RoomInfo struct {
	RoomID   string
	RoomName string
	HostID   string
	SelfID   string
	IsHost   bool
	Rejoined bool
}

// Chat is one received chat line.
type Chat struct {
	From      string
	Username  string
	Message   string
	Timestamp int64
}

// Observer receives every session event. Methods run on the session loop
// and must not block.
type Observer interface {
	ConnectionStateChanged(state supervisor.State)
	Reconnected(attempts int)
	ReconnectFailed(attempts int)
	RoomJoined(info RoomInfo, participants []signaling.Participant)
	ParticipantJoined(p signaling.Participant)
	ParticipantLeft(p signaling.Participant)
	PresentersChanged(entries []presenter.Entry)
	ShareStateChanged(state media.ShareState)
	PeerStateChanged(id string, state webrtc.PeerConnectionState)
	RemoteTrackAdded(id string, track peer.RemoteTrack)
	RemoteStreamRemoved(id string)
	ViewerAudioTrack(viewerID string, track peer.RemoteTrack)
	SpeakingChanged(presenterID string, speaking bool)
	ChatReceived(chat Chat)
	// RoomEvent carries annotation, file and whiteboard frames untouched.
	RoomEvent(msg *signaling.Message)
	ServerError(message string)
	SessionEnded(reason EndReason, detail string)
}

// NopObserver ignores everything except server errors, which it logs.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) ConnectionStateChanged(supervisor.State)             {}
func (NopObserver) Reconnected(int)                                     {}
func (NopObserver) ReconnectFailed(int)                                 {}
func (NopObserver) RoomJoined(RoomInfo, []signaling.Participant)        {}
func (NopObserver) ParticipantJoined(signaling.Participant)             {}
func (NopObserver) ParticipantLeft(signaling.Participant)               {}
func (NopObserver) PresentersChanged([]presenter.Entry)                 {}
func (NopObserver) ShareStateChanged(media.ShareState)                  {}
func (NopObserver) PeerStateChanged(string, webrtc.PeerConnectionState) {}
func (NopObserver) RemoteTrackAdded(string, peer.RemoteTrack)           {}
func (NopObserver) RemoteStreamRemoved(string)                          {}
func (NopObserver) ViewerAudioTrack(string, peer.RemoteTrack)           {}
func (NopObserver) SpeakingChanged(string, bool)                        {}
func (NopObserver) ChatReceived(Chat)                                   {}
func (NopObserver) RoomEvent(*signaling.Message)                        {}
func (NopObserver) SessionEnded(EndReason, string)                      {}

func (NopObserver) ServerError(message string) {
	log.Error().Str("module", "session").Str("error", message).Msg("server error")
}
