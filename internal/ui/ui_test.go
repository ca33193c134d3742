package ui

import (
	"context"
	"testing"

	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/presenter"
	"github.com/BioHazard786/huddle/internal/session"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/supervisor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActions struct {
	snap     session.Snapshot
	shared   []media.Kind
	stopped  int
	speakTo  []string
	unspoken int
	chats    []string
	shareErr error
}

func (f *fakeActions) StartSharing(_ context.Context, kind media.Kind) error {
	f.shared = append(f.shared, kind)
	return f.shareErr
}

func (f *fakeActions) StopSharing() { f.stopped++ }

func (f *fakeActions) StartSpeaking(_ context.Context, id string) error {
	f.speakTo = append(f.speakTo, id)
	return nil
}

func (f *fakeActions) StopSpeaking()              { f.unspoken++ }
func (f *fakeActions) SendChat(text string) error { f.chats = append(f.chats, text); return nil }
func (f *fakeActions) Snapshot() session.Snapshot { return f.snap }

func roomSnapshot() session.Snapshot {
	return session.Snapshot{
		State:  supervisor.Connected,
		Joined: true,
		Room:   session.RoomInfo{RoomID: "r1", RoomName: "standup", HostID: "h", SelfID: "me"},
		Participants: []signaling.Participant{
			{UserID: "h", Username: "ana"},
			{UserID: "me", Username: "bo"},
			{UserID: "v", Username: ""},
		},
		Presenters:    []presenter.Entry{{ID: "h", Name: "ana", Kind: media.Screen}},
		MaxPresenters: 2,
		SpeakingTo:    "h",
		Peers: []session.PeerSummary{
			{ID: "h", Phase: peer.Stable, Health: webrtc.PeerConnectionStateConnected, Tracks: 2},
		},
	}
}

func TestParticipantRows(t *testing.T) {
	rows := ParticipantRows(roomSnapshot())
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"ana", "host", "screen,hearing you", "connected/stable (2 tracks)"}, rows[0])
	assert.Equal(t, []string{"bo", "you", "", "-"}, rows[1])
	assert.Equal(t, "v", rows[2][0], "falls back to the id")
}

func TestPresenterLine(t *testing.T) {
	snap := roomSnapshot()
	assert.Contains(t, PresenterLine(snap), "Presenters 1/2: ana (screen)")

	snap.Presenters = nil
	assert.Contains(t, PresenterLine(snap), "Presenters 0/2")
	assert.NotContains(t, PresenterLine(snap), ":")
}

func TestParticipantTableEmpty(t *testing.T) {
	assert.Contains(t, ParticipantTable(session.Snapshot{}), "Nobody here yet")
	assert.Contains(t, ParticipantTable(roomSnapshot()), "ana")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func newModel(t *testing.T) (*RoomUI, *fakeActions) {
	t.Helper()
	f := &fakeActions{snap: roomSnapshot()}
	ui := NewRoomUI(context.Background())
	ui.Attach(f)
	return ui, f
}

func TestKeysTriggerActions(t *testing.T) {
	ui, f := newModel(t)
	m := ui.model

	m.handleKey("s")()
	m.handleKey("c")()
	m.handleKey("x")()
	assert.Equal(t, []media.Kind{media.Screen, media.Camera}, f.shared)
	assert.Equal(t, 1, f.stopped)

	m.handleKey("t")()
	assert.Equal(t, 1, f.unspoken, "talking while in a call hangs up")

	m.snap.SpeakingTo = ""
	m.handleKey("t")()
	assert.Equal(t, []string{""}, f.speakTo)
}

func TestActionErrorIsLogged(t *testing.T) {
	ui, f := newModel(t)
	f.shareErr = presenter.ErrPresenterLimit
	m := ui.model

	msg := m.handleKey("s")()
	m.Update(msg)
	require.Len(t, m.log, 1)
	assert.Contains(t, m.log[0].text, "share screen")
	assert.Equal(t, levelError, m.log[0].level)
}

func TestChatInput(t *testing.T) {
	ui, f := newModel(t)
	m := ui.model

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.chatting)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(" hi all ")})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	cmd()

	assert.False(t, m.chatting)
	assert.Equal(t, []string{"hi all"}, f.chats)

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("nope")})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.chatting)
	assert.Len(t, f.chats, 1)
}

func TestBridgeFeedsLog(t *testing.T) {
	ui, _ := newModel(t)
	obs := ui.Observer()

	obs.RoomJoined(session.RoomInfo{RoomID: "r1", SelfID: "me"}, []signaling.Participant{{UserID: "h", Username: "ana"}})
	obs.ParticipantJoined(signaling.Participant{UserID: "v", Username: "cy"})
	obs.ChatReceived(session.Chat{From: "h", Username: "ana", Message: "hello"})
	obs.ChatReceived(session.Chat{From: "me", Username: "bo", Message: "hey"})
	obs.ServerError("presenter limit reached")

	var texts []string
	for len(ui.events) > 0 {
		ev := <-ui.events
		texts = append(texts, ev.text)
		ui.model.Update(ev)
	}
	require.Len(t, texts, 5)
	assert.Contains(t, texts[1], "cy joined")
	assert.Equal(t, "ana: hello", texts[2])
	assert.Equal(t, "you: hey", texts[3])
	assert.Equal(t, "server: presenter limit reached", texts[4])

	assert.Equal(t, "standup", ui.model.snap.Room.RoomName, "events refresh the snapshot")
	assert.Len(t, ui.model.log, 5)
}

func TestSessionEndQuits(t *testing.T) {
	ui, _ := newModel(t)
	ui.Observer().SessionEnded(session.Kicked, "")

	msg := <-ui.ended
	_, cmd := ui.model.Update(msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, ui.model.View(), "Session ended: kicked")
}

func TestLogIsBounded(t *testing.T) {
	ui, _ := newModel(t)
	for i := 0; i < maxLogLines+5; i++ {
		ui.model.appendLog(levelInfo, "line")
	}
	assert.Len(t, ui.model.log, maxLogLines)
}

func TestViewShowsRoom(t *testing.T) {
	ui, f := newModel(t)
	ui.model.snap = f.snap
	view := ui.model.View()
	assert.Contains(t, view, "standup")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "talking to ana")
}
