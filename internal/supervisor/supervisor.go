// Package supervisor keeps the room socket alive: it dials, sends
// heartbeats, and reconnects with exponential backoff until the server
// ends the session or the attempts run out.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/huddle/internal/auth"
	"github.com/BioHazard786/huddle/internal/ice"
	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrDisconnected      = errors.New("disconnected before connect completed")
)

// State is the connection state of the room socket.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
	DefaultHeartbeat   = 30 * time.Second
	DefaultDialTimeout = 15 * time.Second
)

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base * 2^(n-1), max).
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		return base
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Listener receives supervisor notifications on the loop.
type Listener interface {
	ConnectionStateChanged(s State)
	Reconnected(attempts int)
	ReconnectFailed(attempts int)
	MessageReceived(data []byte)
	Closed(code int, reason string)
}

// Options configures a Supervisor. Zero durations take the defaults.
type Options struct {
	// RoomURL is the socket URL without credentials.
	RoomURL       string
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	Heartbeat     time.Duration
	DialTimeout   time.Duration
	AutoReconnect bool
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = DefaultHeartbeat
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
}

// ReconnectInfo is a snapshot of the reconnect bookkeeping.
type ReconnectInfo struct {
	Attempts         int
	Delay            time.Duration
	MaxAttempts      int
	MaxDelay         time.Duration
	Pending          bool
	ShouldReconnect  bool
	ManualDisconnect bool
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	Exec        loop.Executor
	Sched       loop.Scheduler
	Dialer      signaling.Dialer
	Credentials auth.Source
	ICE         ice.Source
	Listener    Listener
}

// Supervisor is confined to the session loop; every method must be called
// from it.
type Supervisor struct {
	opts Options
	deps Deps
	log  zerolog.Logger

	state   State
	conn    signaling.Conn
	gen     uint64
	servers []webrtc.ICEServer
	// inflight completes the dial of the current generation.
	inflight func(error)

	attempts  int
	delay     time.Duration
	pending   loop.Timer
	heartbeat loop.Timer
	manual    bool
}

func New(opts Options, deps Deps) *Supervisor {
	opts.defaults()
	return &Supervisor{
		opts:  opts,
		deps:  deps,
		log:   log.With().Str("module", "supervisor").Logger(),
		delay: opts.BaseDelay,
	}
}

func (s *Supervisor) State() State { return s.state }

func (s *Supervisor) ReconnectInfo() ReconnectInfo {
	return ReconnectInfo{
		Attempts:         s.attempts,
		Delay:            s.delay,
		MaxAttempts:      s.opts.MaxAttempts,
		MaxDelay:         s.opts.MaxDelay,
		Pending:          s.pending != nil,
		ShouldReconnect:  s.opts.AutoReconnect && !s.manual,
		ManualDisconnect: s.manual,
	}
}

// ICEServers returns the relay configuration obtained on the last connect.
func (s *Supervisor) ICEServers() []webrtc.ICEServer { return s.servers }

func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Info().Str("from", s.state.String()).Str("to", st.String()).Msg("connection state")
	s.state = st
	s.deps.Listener.ConnectionStateChanged(st)
}

// Connect opens the socket. done is called on the loop with nil once the
// socket is open, or with the error that prevented it. A missing
// credential fails without dialing.
func (s *Supervisor) Connect(ctx context.Context, done func(error)) {
	switch s.state {
	case Connected:
		done(nil)
		return
	case Connecting:
		done(ErrConnectInProgress)
		return
	}

	s.cancelPending()
	s.manual = false
	s.attempts = 0
	s.delay = s.opts.BaseDelay
	s.setState(Connecting)

	s.dial(ctx, func(err error) {
		if err != nil {
			s.log.Error().Err(err).Msg("connect failed")
			s.setState(Disconnected)
		}
		done(err)
	})
}

type dialResult struct {
	conn    signaling.Conn
	servers []webrtc.ICEServer
	err     error
}

// dial resolves the credential and relay configuration, then opens the
// socket, all off the loop. Results for a superseded generation are dropped.
func (s *Supervisor) dial(ctx context.Context, done func(error)) {
	s.abandon()
	s.gen++
	gen := s.gen
	s.inflight = done

	creds, iceSrc, dialer, exec := s.deps.Credentials, s.deps.ICE, s.deps.Dialer, s.deps.Exec
	roomURL := s.opts.RoomURL
	ev := s.events(gen)

	exec.Go(func() {
		res := func() dialResult {
			token, err := creds.Token(ctx)
			if err != nil {
				return dialResult{err: err}
			}

			var servers []webrtc.ICEServer
			if iceSrc != nil {
				servers, err = iceSrc.Servers(ctx)
				if err != nil {
					log.Warn().Str("module", "supervisor").Err(err).Msg("no relay configuration")
				}
			}

			conn, err := dialer.Dial(ctx, withToken(roomURL, token), ev)
			return dialResult{conn: conn, servers: servers, err: err}
		}()

		exec.Post(func() { s.onDial(gen, res) })
	})
}

// abandon completes a dial that will never be delivered.
func (s *Supervisor) abandon() {
	if done := s.inflight; done != nil {
		s.inflight = nil
		done(ErrDisconnected)
	}
}

// withToken appends the credential to the room URL, which may already
// carry a query.
func withToken(raw, token string) string {
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "token=" + url.QueryEscape(token)
}

func (s *Supervisor) events(gen uint64) signaling.Events {
	exec := s.deps.Exec
	return signaling.Events{
		OnMessage: func(data []byte) {
			exec.Post(func() {
				if gen == s.gen {
					s.deps.Listener.MessageReceived(data)
				}
			})
		},
		OnError: func(err error) {
			exec.Post(func() {
				if gen == s.gen {
					s.log.Warn().Err(err).Msg("transport error")
				}
			})
		},
		OnClose: func(code int, reason string) {
			exec.Post(func() { s.onClose(gen, code, reason) })
		},
	}
}

func (s *Supervisor) onDial(gen uint64, res dialResult) {
	if gen != s.gen || s.inflight == nil {
		if res.conn != nil {
			res.conn.Close(signaling.CloseNormal, "superseded")
		}
		return
	}
	done := s.inflight
	s.inflight = nil
	if res.err != nil {
		done(res.err)
		return
	}

	s.conn = res.conn
	s.servers = res.servers
	n := s.attempts
	s.attempts = 0
	s.delay = s.opts.BaseDelay
	s.setState(Connected)
	if n > 0 {
		s.log.Info().Int("attempts", n).Msg("reconnected")
		s.deps.Listener.Reconnected(n)
	}
	s.startHeartbeat()
	done(nil)
}

func (s *Supervisor) onClose(gen uint64, code int, reason string) {
	if gen != s.gen {
		return
	}
	s.conn = nil
	s.stopHeartbeat()
	s.log.Info().Int("code", code).Str("reason", reason).Msg("socket closed")
	s.deps.Listener.Closed(code, reason)

	switch {
	case s.manual || signaling.Terminal(code):
		s.setState(Disconnected)
	case s.opts.AutoReconnect:
		s.setState(Reconnecting)
		s.scheduleReconnect()
	default:
		s.setState(Disconnected)
	}
}

// scheduleReconnect arms the next attempt, or gives up once attempts run
// out. At most one attempt is pending at a time.
func (s *Supervisor) scheduleReconnect() {
	if s.pending != nil || s.manual {
		return
	}
	if s.attempts >= s.opts.MaxAttempts {
		s.setState(Failed)
		s.log.Error().Int("attempts", s.attempts).Msg("giving up on reconnect")
		s.deps.Listener.ReconnectFailed(s.attempts)
		return
	}

	s.attempts++
	s.delay = Backoff(s.attempts, s.opts.BaseDelay, s.opts.MaxDelay)
	s.log.Info().Int("attempt", s.attempts).Dur("delay", s.delay).Msg("reconnect scheduled")
	s.pending = s.deps.Sched.AfterFunc(s.delay, func() {
		s.pending = nil
		s.reconnect()
	})
}

func (s *Supervisor) reconnect() {
	if s.manual || s.state != Reconnecting {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	s.dial(ctx, func(err error) {
		cancel()
		if errors.Is(err, ErrDisconnected) {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Int("attempt", s.attempts).Msg("reconnect attempt failed")
			s.scheduleReconnect()
		}
	})
}

func (s *Supervisor) cancelPending() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func (s *Supervisor) startHeartbeat() {
	s.stopHeartbeat()
	s.heartbeat = s.deps.Sched.Every(s.opts.Heartbeat, func() {
		if s.conn == nil {
			return
		}
		if err := s.Send(&signaling.Message{Type: signaling.TypePing}); err != nil {
			s.log.Debug().Err(err).Msg("heartbeat failed")
		}
	})
}

func (s *Supervisor) stopHeartbeat() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
}

// Disconnect closes the socket and stops every timer. No automatic
// reconnect follows.
func (s *Supervisor) Disconnect(manual bool) {
	s.manual = manual
	s.cancelPending()
	s.stopHeartbeat()
	s.gen++
	s.abandon()

	if s.conn != nil {
		s.conn.Close(signaling.CloseNormal, "client disconnect")
		s.conn = nil
	}
	s.setState(Disconnected)
}

// Send encodes msg and writes it to the socket.
func (s *Supervisor) Send(msg *signaling.Message) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := s.conn.Send(data); err != nil {
		return signaling.NewError("send "+msg.Type, err)
	}
	return nil
}
