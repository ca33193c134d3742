// Package session composes the room connection, the peer links, the
// presenter table and the viewer-audio channel on a single loop, and
// reports everything that happens through an Observer.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/huddle/internal/auth"
	"github.com/BioHazard786/huddle/internal/ice"
	"github.com/BioHazard786/huddle/internal/journal"
	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/presenter"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/BioHazard786/huddle/internal/supervisor"
	"github.com/BioHazard786/huddle/internal/voice"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotHost     = errors.New("only the host can do that")
	ErrEmptyChat   = errors.New("empty chat message")
	ErrNoPresenter = errors.New("nobody is presenting")
)

// Options configures a Session.
type Options struct {
	Username      string
	MaxPresenters int
	ForceRelay    bool
	// Connection carries the room URL and reconnect tuning.
	Connection supervisor.Options
}

// Deps are the collaborators a Session drives. Exec and Sched default to
// a loop owned by the session; Factory defaults to pion links.
type Deps struct {
	Exec        loop.Executor
	Sched       loop.Scheduler
	Dialer      signaling.Dialer
	Credentials auth.Source
	ICE         ice.Source
	Factory     peer.Factory
	Media       media.Provider
	Microphone  media.Provider
	Observer    Observer
	Journal     *journal.Writer
}

// Session is safe for use from any goroutine. Its state lives on the loop.
type Session struct {
	opts Options
	deps Deps
	log  zerolog.Logger
	obs  Observer

	owned     *loop.Loop
	exec      loop.Executor
	closed    chan struct{}
	closeOnce sync.Once

	sup        *supervisor.Supervisor
	peers      *peer.Registry
	presenters *presenter.Coordinator
	voice      *voice.Channel

	room         RoomInfo
	joined       bool
	ended        bool
	participants map[string]signaling.Participant
}

func New(opts Options, deps Deps) *Session {
	s := &Session{
		opts:         opts,
		deps:         deps,
		log:          log.With().Str("module", "session").Logger(),
		obs:          deps.Observer,
		closed:       make(chan struct{}),
		participants: make(map[string]signaling.Participant),
	}
	if s.obs == nil {
		s.obs = NopObserver{}
	}
	if opts.MaxPresenters <= 0 {
		s.opts.MaxPresenters = presenter.DefaultMaxPresenters
	}

	if deps.Exec == nil {
		s.owned = loop.New()
		deps.Exec, deps.Sched = s.owned, s.owned
		go s.owned.Run(context.Background())
	}
	s.exec = deps.Exec

	ev := &events{s: s}
	s.sup = supervisor.New(opts.Connection, supervisor.Deps{
		Exec:        deps.Exec,
		Sched:       deps.Sched,
		Dialer:      deps.Dialer,
		Credentials: deps.Credentials,
		ICE:         deps.ICE,
		Listener:    ev,
	})

	factory := deps.Factory
	if factory == nil {
		factory = peer.PionFactory(func() webrtc.Configuration {
			return ice.Configuration(s.sup.ICEServers(), s.opts.ForceRelay)
		}, deps.Exec)
	}

	outbox := signaling.OutboxFunc(s.send)
	s.peers = peer.NewRegistry(peer.Options{
		Factory:     factory,
		Outbox:      outbox,
		Events:      ev,
		LocalTracks: func() []webrtc.TrackLocal { return s.presenters.LocalTracks() },
		SelfID:      func() string { return s.room.SelfID },
	})
	s.presenters = presenter.NewCoordinator(s.opts.MaxPresenters, presenter.Deps{
		Engine:   s.peers,
		Outbox:   outbox,
		Exec:     deps.Exec,
		Sched:    deps.Sched,
		Provider: deps.Media,
		Listener: ev,
	})
	s.voice = voice.New(voice.Deps{
		Factory:    factory,
		Outbox:     outbox,
		Exec:       deps.Exec,
		Microphone: deps.Microphone,
		Listener:   ev,
	})
	s.deps = deps
	return s
}

// await starts an asynchronous loop operation and waits for its result.
func (s *Session) await(ctx context.Context, start func(done func(error))) error {
	errc := make(chan error, 1)
	if !s.exec.Post(func() { start(func(err error) { errc <- err }) }) {
		return signaling.ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return signaling.ErrClosed
	}
}

// do runs fn on the loop and returns its error.
func (s *Session) do(fn func() error) error {
	var err error
	if !s.exec.Do(func() { err = fn() }) {
		return signaling.ErrClosed
	}
	return err
}

// Connect opens the room socket. It returns once the socket is open; the
// room snapshot follows as RoomJoined.
func (s *Session) Connect(ctx context.Context) error {
	return s.await(ctx, func(done func(error)) {
		s.ended = false
		s.sup.Connect(ctx, done)
	})
}

// Disconnect leaves the room and releases every link and local stream.
func (s *Session) Disconnect() {
	s.exec.Do(func() { s.end(EndedByUser, "") })
}

// StartSharing publishes local media of kind to every participant. It
// fails with presenter.ErrPresenterLimit when the room is full.
func (s *Session) StartSharing(ctx context.Context, kind media.Kind) error {
	return s.await(ctx, func(done func(error)) {
		if s.sup.State() != supervisor.Connected {
			done(supervisor.ErrNotConnected)
			return
		}
		s.presenters.StartSharing(ctx, kind, done)
	})
}

func (s *Session) StopSharing() {
	s.exec.Do(s.presenters.StopSharing)
}

// StartSpeaking opens an audio link to presenterID, or to the first remote
// presenter when presenterID is empty.
func (s *Session) StartSpeaking(ctx context.Context, presenterID string) error {
	return s.await(ctx, func(done func(error)) {
		if s.sup.State() != supervisor.Connected {
			done(supervisor.ErrNotConnected)
			return
		}
		id := presenterID
		if id == "" {
			for _, e := range s.presenters.Table().Entries() {
				if e.ID != s.room.SelfID {
					id = e.ID
					break
				}
			}
			if id == "" {
				done(ErrNoPresenter)
				return
			}
		}
		s.voice.StartSpeaking(ctx, id, done)
	})
}

func (s *Session) StopSpeaking() {
	s.exec.Do(s.voice.StopSpeaking)
}

// SendChat broadcasts a chat line to the room.
func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}
	return s.do(func() error {
		return s.send(&signaling.Message{Type: signaling.TypeChat, Message: text, Timestamp: time.Now().UnixMilli()})
	})
}

// KickUser asks the relay to remove id from the room. Host only.
func (s *Session) KickUser(id string) error {
	return s.do(func() error {
		if !s.room.IsHost {
			return ErrNotHost
		}
		return s.send(&signaling.Message{Type: signaling.TypeKickUser, Target: id})
	})
}

// EndRoom closes the room for everyone. Host only.
func (s *Session) EndRoom() error {
	return s.do(func() error {
		if !s.room.IsHost {
			return ErrNotHost
		}
		return s.send(&signaling.Message{Type: signaling.TypeEndRoom})
	})
}

// PeerSummary is the state of one main peer link.
type PeerSummary struct {
	ID     string
	Phase  peer.Phase
	Health webrtc.PeerConnectionState
	Tracks int
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	State         supervisor.State
	Reconnect     supervisor.ReconnectInfo
	Room          RoomInfo
	Joined        bool
	Ended         bool
	Participants  []signaling.Participant
	Presenters    []presenter.Entry
	MaxPresenters int
	Share         media.ShareState
	SpeakingTo    string
	Listeners     []string
	Peers         []PeerSummary
}

func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.exec.Do(func() { snap = s.snapshot() })
	return snap
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		State:         s.sup.State(),
		Reconnect:     s.sup.ReconnectInfo(),
		Room:          s.room,
		Joined:        s.joined,
		Ended:         s.ended,
		Participants:  s.participantList(),
		Presenters:    s.presenters.Table().Entries(),
		MaxPresenters: s.presenters.Table().Max(),
		Share:         s.presenters.ShareState(),
		Listeners:     s.voice.Listeners(),
	}
	snap.SpeakingTo, _ = s.voice.Speaking()
	for _, id := range s.peers.IDs() {
		rec, _ := s.peers.Get(id)
		snap.Peers = append(snap.Peers, PeerSummary{ID: id, Phase: rec.Phase, Health: rec.Health, Tracks: len(rec.Tracks)})
	}
	return snap
}

func (s *Session) participantList() []signaling.Participant {
	out := make([]signaling.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close leaves the room and stops the session loop. The session cannot
// be reused.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.exec.Do(func() { s.end(EndedByUser, "") })
		close(s.closed)
		if s.owned != nil {
			s.owned.Stop()
		}
	})
	return nil
}

// end tears everything down once. The room is not told about stopped
// shares; the relay announces our departure.
func (s *Session) end(reason EndReason, detail string) {
	if s.ended {
		return
	}
	s.ended = true
	s.joined = false
	s.voice.Close()
	s.presenters.Close()
	s.peers.CloseAll()
	if reason != ReconnectExhausted {
		s.sup.Disconnect(true)
	}
	s.log.Info().Str("reason", reason.String()).Str("detail", detail).Msg("session ended")
	s.obs.SessionEnded(reason, detail)
}

// send is the outbox shared by every component.
func (s *Session) send(msg *signaling.Message) error {
	if s.deps.Journal != nil {
		if data, err := msg.Encode(); err == nil {
			s.record(journal.Outbound, msg.Type, data)
		}
	}
	return s.sup.Send(msg)
}

func (s *Session) record(dir journal.Direction, kind string, data []byte) {
	if err := s.deps.Journal.Record(dir, kind, data); err != nil {
		s.log.Warn().Err(err).Msg("journal write failed")
	}
}

// events adapts component callbacks to the Observer.
type events struct {
	s *Session
}

func (e *events) ConnectionStateChanged(st supervisor.State) { e.s.obs.ConnectionStateChanged(st) }
func (e *events) Reconnected(n int)                          { e.s.obs.Reconnected(n) }

func (e *events) ReconnectFailed(n int) {
	e.s.obs.ReconnectFailed(n)
	e.s.end(ReconnectExhausted, "")
}

func (e *events) MessageReceived(data []byte) {
	msg, err := signaling.Decode(data)
	if e.s.deps.Journal != nil {
		kind := "malformed"
		if err == nil {
			kind = msg.Type
		}
		e.s.record(journal.Inbound, kind, data)
	}
	if err != nil {
		e.s.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping frame")
		return
	}
	e.s.route(msg)
}

func (e *events) Closed(code int, reason string) {
	switch code {
	case signaling.CloseKicked:
		e.s.end(Kicked, reason)
	case signaling.CloseRoomEnded:
		e.s.end(RoomEnded, reason)
	case signaling.CloseNormal:
		e.s.end(RoomEnded, "closed by server")
	}
}

func (e *events) PeerStateChanged(id string, st webrtc.PeerConnectionState) {
	e.s.obs.PeerStateChanged(id, st)
}

func (e *events) RemoteTrackAdded(id string, t peer.RemoteTrack) { e.s.obs.RemoteTrackAdded(id, t) }
func (e *events) RemoteStreamRemoved(id string)                  { e.s.obs.RemoteStreamRemoved(id) }
func (e *events) PresentersChanged(entries []presenter.Entry)    { e.s.obs.PresentersChanged(entries) }
func (e *events) ShareStateChanged(st media.ShareState)          { e.s.obs.ShareStateChanged(st) }

func (e *events) ViewerAudioTrack(id string, t peer.RemoteTrack) { e.s.obs.ViewerAudioTrack(id, t) }
func (e *events) SpeakingChanged(id string, on bool)             { e.s.obs.SpeakingChanged(id, on) }
