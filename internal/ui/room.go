package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/session"
	"github.com/BioHazard786/huddle/internal/supervisor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxLogLines = 10

// Actions are the room operations the view can trigger.
// *session.Session satisfies it.
type Actions interface {
	StartSharing(ctx context.Context, kind media.Kind) error
	StopSharing()
	StartSpeaking(ctx context.Context, presenterID string) error
	StopSpeaking()
	SendChat(text string) error
	Snapshot() session.Snapshot
}

type level int

const (
	levelInfo level = iota
	levelWarn
	levelError
	levelChat
)

// eventMsg is one line for the activity log. An empty text only refreshes
// the snapshot.
type eventMsg struct {
	level level
	text  string
}

type endedMsg struct {
	reason session.EndReason
	detail string
}

type actionDoneMsg struct {
	what string
	err  error
}

// RoomUI runs the interactive room view.
type RoomUI struct {
	model  *roomModel
	events chan eventMsg
	ended  chan endedMsg
}

// NewRoomUI builds the view. Attach must be called before Run.
func NewRoomUI(ctx context.Context) *RoomUI {
	events := make(chan eventMsg, 128)
	ended := make(chan endedMsg, 1)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "say something"
	in.Prompt = IconChat + " "
	in.CharLimit = 500

	return &RoomUI{
		model: &roomModel{
			ctx:     ctx,
			events:  events,
			ended:   ended,
			spinner: s,
			input:   in,
		},
		events: events,
		ended:  ended,
	}
}

// Attach sets the session the view drives.
func (ui *RoomUI) Attach(actions Actions) {
	ui.model.actions = actions
	ui.model.snap = actions.Snapshot()
}

// Observer returns the session observer feeding this view.
func (ui *RoomUI) Observer() session.Observer {
	return newBridge(ui)
}

// Run blocks until the user quits, the session ends or ctx is done.
// It returns the end reason when the session ended on its own.
func (ui *RoomUI) Run(ctx context.Context) (*session.EndReason, error) {
	program := tea.NewProgram(ui.model)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-stop:
		}
	}()

	if _, err := program.Run(); err != nil {
		return nil, err
	}
	if ui.model.endedBy != nil {
		r := ui.model.endedBy.reason
		return &r, nil
	}
	return nil, nil
}

// post never blocks the session loop; a full log drops the line.
func (ui *RoomUI) post(lvl level, format string, args ...any) {
	select {
	case ui.events <- eventMsg{level: lvl, text: fmt.Sprintf(format, args...)}:
	default:
	}
}

func (ui *RoomUI) refresh() {
	select {
	case ui.events <- eventMsg{}:
	default:
	}
}

func (ui *RoomUI) end(reason session.EndReason, detail string) {
	select {
	case ui.ended <- endedMsg{reason: reason, detail: detail}:
	default:
	}
}

type logLine struct {
	at    time.Time
	level level
	text  string
}

type roomModel struct {
	ctx     context.Context
	actions Actions
	events  chan eventMsg
	ended   chan endedMsg

	snap     session.Snapshot
	log      []logLine
	spinner  spinner.Model
	input    textinput.Model
	chatting bool
	quitting bool
	endedBy  *endedMsg
	now      func() time.Time
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvents(), m.listenForEnd())
}

func (m *roomModel) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *roomModel) listenForEnd() tea.Cmd {
	return func() tea.Msg {
		return <-m.ended
	}
}

func (m *roomModel) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *roomModel) appendLog(lvl level, text string) {
	m.log = append(m.log, logLine{at: m.clock(), level: lvl, text: text})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.chatting {
			return m.updateChat(msg)
		}
		return m, m.handleKey(msg.String())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		if msg.text != "" {
			m.appendLog(msg.level, msg.text)
		}
		m.snap = m.actions.Snapshot()
		return m, m.listenForEvents()

	case actionDoneMsg:
		if msg.err != nil {
			m.appendLog(levelError, fmt.Sprintf("%s: %v", msg.what, msg.err))
		}
		m.snap = m.actions.Snapshot()
		return m, nil

	case endedMsg:
		m.endedBy = &msg
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *roomModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "s":
		return m.run("share screen", func() error { return m.actions.StartSharing(m.ctx, media.Screen) })
	case "c":
		return m.run("share camera", func() error { return m.actions.StartSharing(m.ctx, media.Camera) })
	case "x":
		return m.run("stop sharing", func() error { m.actions.StopSharing(); return nil })
	case "t":
		if m.snap.SpeakingTo != "" {
			return m.run("stop talking", func() error { m.actions.StopSpeaking(); return nil })
		}
		return m.run("talk", func() error { return m.actions.StartSpeaking(m.ctx, "") })
	case "enter", "m":
		m.chatting = true
		return m.input.Focus()
	}
	return nil
}

func (m *roomModel) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.stopChatting()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.stopChatting()
		if text == "" {
			return m, nil
		}
		return m, m.run("chat", func() error { return m.actions.SendChat(text) })
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *roomModel) stopChatting() {
	m.chatting = false
	m.input.Reset()
	m.input.Blur()
}

// run performs a session call off the UI goroutine.
func (m *roomModel) run(what string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{what: what, err: fn()}
	}
}

func (m *roomModel) View() string {
	var b strings.Builder

	title := "huddle"
	if m.snap.Room.RoomName != "" {
		title += " · " + m.snap.Room.RoomName
	} else if m.snap.Room.RoomID != "" {
		title += " · " + m.snap.Room.RoomID
	}
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.snap.Joined {
		b.WriteString(ParticipantTable(m.snap))
		b.WriteString("\n")
		b.WriteString(PresenterLine(m.snap))
		b.WriteString("\n")
		b.WriteString(m.mediaLine())
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, l := range m.log {
			b.WriteString(renderLogLine(l))
			b.WriteString("\n")
		}
	}

	if m.endedBy != nil {
		msg := "Session ended: " + m.endedBy.reason.String()
		if m.endedBy.detail != "" {
			msg += " (" + m.endedBy.detail + ")"
		}
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render(msg))
		b.WriteString("\n")
		return b.String()
	}
	if m.quitting {
		return b.String()
	}

	if m.chatting {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(FooterStyle.Render("enter send • esc cancel"))
	} else {
		b.WriteString(FooterStyle.Render("s screen • c camera • x stop • t talk • enter chat • q leave"))
	}
	return b.String()
}

func (m *roomModel) statusLine() string {
	state := m.snap.State
	switch state {
	case supervisor.Connected:
		return SuccessStyle.Render(IconConnect + " connected")
	case supervisor.Reconnecting:
		r := m.snap.Reconnect
		return fmt.Sprintf("%s %s", m.spinner.View(),
			WarningStyle.Render(fmt.Sprintf("%s reconnecting (attempt %d/%d, next in %s)", IconReconnect, r.Attempts, r.MaxAttempts, r.Delay)))
	case supervisor.Connecting:
		return fmt.Sprintf("%s %s", m.spinner.View(), MutedStyle.Render("connecting"))
	case supervisor.Failed:
		return ErrorStyle.Render(IconError + " connection failed")
	}
	return MutedStyle.Render(state.String())
}

func (m *roomModel) mediaLine() string {
	var parts []string
	if kind, ok := m.snap.Share.Kind(); ok {
		icon := IconScreen
		if kind == media.Camera {
			icon = IconCamera
		}
		parts = append(parts, fmt.Sprintf("%s sharing %s", icon, kind))
	}
	if m.snap.SpeakingTo != "" {
		parts = append(parts, fmt.Sprintf("%s talking to %s", IconMic, m.nameOf(m.snap.SpeakingTo)))
	}
	if n := len(m.snap.Listeners); n > 0 {
		parts = append(parts, fmt.Sprintf("%s %d viewer(s) talking", IconMic, n))
	}
	if len(parts) == 0 {
		return MutedStyle.Render("not sharing")
	}
	return strings.Join(parts, "  ")
}

func (m *roomModel) nameOf(id string) string {
	for _, p := range m.snap.Participants {
		if p.UserID == id && p.Username != "" {
			return p.Username
		}
	}
	return id
}

func renderLogLine(l logLine) string {
	ts := MutedStyle.Render(l.at.Format("15:04:05"))
	var style lipgloss.Style
	switch l.level {
	case levelWarn:
		style = WarningStyle
	case levelError:
		style = ErrorStyle
	case levelChat:
		style = BoldStyle
	default:
		style = lipgloss.NewStyle()
	}
	return ts + " " + style.Render(l.text)
}
