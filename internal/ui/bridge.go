package ui

import (
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/presenter"
	"github.com/BioHazard786/huddle/internal/session"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/supervisor"
	"github.com/pion/webrtc/v4"
)

// bridge turns session events into log lines. It runs on the session
// loop, so names needs no lock.
type bridge struct {
	ui    *RoomUI
	self  string
	names map[string]string
}

var _ session.Observer = (*bridge)(nil)

func newBridge(ui *RoomUI) *bridge {
	return &bridge{ui: ui, names: make(map[string]string)}
}

func (b *bridge) name(id string) string {
	if id != "" && id == b.self {
		return "you"
	}
	if n := b.names[id]; n != "" {
		return n
	}
	return id
}

func (b *bridge) ConnectionStateChanged(state supervisor.State) {
	switch state {
	case supervisor.Reconnecting:
		b.ui.post(levelWarn, "%s connection lost, reconnecting", IconReconnect)
	case supervisor.Failed:
		b.ui.post(levelError, "%s connection failed", IconError)
	default:
		b.ui.refresh()
	}
}

func (b *bridge) Reconnected(attempts int) {
	b.ui.post(levelInfo, "%s reconnected after %d attempt(s)", IconConnect, attempts)
}

func (b *bridge) ReconnectFailed(attempts int) {
	b.ui.post(levelError, "gave up reconnecting after %d attempt(s)", attempts)
}

func (b *bridge) RoomJoined(info session.RoomInfo, participants []signaling.Participant) {
	b.self = info.SelfID
	for _, p := range participants {
		b.names[p.UserID] = p.Username
	}
	name := info.RoomName
	if name == "" {
		name = info.RoomID
	}
	switch {
	case info.Rejoined:
		b.ui.post(levelInfo, "%s rejoined %s", IconRoom, name)
	case info.IsHost:
		b.ui.post(levelInfo, "%s joined %s as host", IconRoom, name)
	default:
		b.ui.post(levelInfo, "%s joined %s with %d participant(s)", IconRoom, name, len(participants))
	}
}

func (b *bridge) ParticipantJoined(p signaling.Participant) {
	b.names[p.UserID] = p.Username
	b.ui.post(levelInfo, "%s %s joined", IconPeer, b.name(p.UserID))
}

func (b *bridge) ParticipantLeft(p signaling.Participant) {
	b.ui.post(levelInfo, "%s %s left", IconPeer, b.name(p.UserID))
	delete(b.names, p.UserID)
}

func (b *bridge) PresentersChanged([]presenter.Entry) {
	b.ui.refresh()
}

func (b *bridge) ShareStateChanged(state media.ShareState) {
	if kind, ok := state.Kind(); ok {
		b.ui.post(levelInfo, "you are sharing your %s", kind)
		return
	}
	b.ui.post(levelInfo, "you stopped sharing")
}

func (b *bridge) PeerStateChanged(id string, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed:
		b.ui.post(levelWarn, "link to %s failed", b.name(id))
	case webrtc.PeerConnectionStateConnected:
		b.ui.post(levelInfo, "linked with %s", b.name(id))
	default:
		b.ui.refresh()
	}
}

func (b *bridge) RemoteTrackAdded(id string, track peer.RemoteTrack) {
	b.ui.post(levelInfo, "receiving %s from %s", track.Kind(), b.name(id))
}

func (b *bridge) RemoteStreamRemoved(id string) {
	b.ui.post(levelInfo, "%s stopped streaming", b.name(id))
}

func (b *bridge) ViewerAudioTrack(viewerID string, _ peer.RemoteTrack) {
	b.ui.post(levelInfo, "%s %s is talking to you", IconMic, b.name(viewerID))
}

func (b *bridge) SpeakingChanged(presenterID string, speaking bool) {
	if speaking {
		b.ui.post(levelInfo, "%s talking to %s", IconMic, b.name(presenterID))
		return
	}
	b.ui.post(levelInfo, "stopped talking to %s", b.name(presenterID))
}

func (b *bridge) ChatReceived(chat session.Chat) {
	name := b.name(chat.From)
	if name == chat.From && chat.Username != "" {
		name = chat.Username
	}
	b.ui.post(levelChat, "%s: %s", name, chat.Message)
}

func (b *bridge) RoomEvent(msg *signaling.Message) {
	b.ui.post(levelInfo, "%s from %s", msg.Type, b.name(msg.Sender()))
}

func (b *bridge) ServerError(message string) {
	b.ui.post(levelError, "server: %s", message)
}

func (b *bridge) SessionEnded(reason session.EndReason, detail string) {
	b.ui.end(reason, detail)
}
