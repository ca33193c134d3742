// Package peertest provides a scriptable in-memory peer.Link.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
)

var ErrInjected = errors.New("injected failure")

// Link models the signaling state machine of a peer connection closely
// enough to exercise negotiation logic, without any networking.
type Link struct {
	Name string

	mu        sync.Mutex
	signaling webrtc.SignalingState
	conn      webrtc.PeerConnectionState
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	applied   []webrtc.ICECandidateInit
	senders   []*Sender
	offers    int
	closed    bool

	// Fail* make the matching call return ErrInjected.
	FailCreateOffer  bool
	FailCreateAnswer bool
	FailSetRemote    bool
	FailAddCandidate bool

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(peer.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

var _ peer.Link = (*Link)(nil)

func NewLink(name string) *Link {
	return &Link{Name: name, signaling: webrtc.SignalingStateStable, conn: webrtc.PeerConnectionStateNew}
}

func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailCreateOffer {
		return webrtc.SessionDescription{}, ErrInjected
	}
	l.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s #%d tracks=%d", l.Name, l.offers, l.liveTracks())}, nil
}

func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailCreateAnswer {
		return webrtc.SessionDescription{}, ErrInjected
	}
	if l.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", l.signaling)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer " + l.Name}, nil
}

func (l *Link) SetLocalDescription(d webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if l.signaling != webrtc.SignalingStateStable {
			return fmt.Errorf("local offer in %s", l.signaling)
		}
		l.signaling = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if l.signaling != webrtc.SignalingStateHaveRemoteOffer {
			return fmt.Errorf("local answer in %s", l.signaling)
		}
		l.signaling = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		if l.signaling != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("rollback in %s", l.signaling)
		}
		l.signaling = webrtc.SignalingStateStable
		l.local = nil
		return nil
	}
	l.local = &d
	return nil
}

func (l *Link) SetRemoteDescription(d webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailSetRemote {
		return ErrInjected
	}
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if l.signaling == webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote offer in %s", l.signaling)
		}
		l.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if l.signaling != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("remote answer in %s", l.signaling)
		}
		l.signaling = webrtc.SignalingStateStable
	}
	l.remote = &d
	return nil
}

func (l *Link) RemoteDescription() *webrtc.SessionDescription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

func (l *Link) LocalDescription() *webrtc.SessionDescription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

func (l *Link) SignalingState() webrtc.SignalingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signaling
}

func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *Link) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailAddCandidate {
		return ErrInjected
	}
	if l.remote == nil {
		return errors.New("candidate before remote description")
	}
	l.applied = append(l.applied, c)
	return nil
}

// Applied returns the candidates added so far, in order.
func (l *Link) Applied() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.applied))
	for _, c := range l.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (l *Link) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Sender{kind: track.Kind(), track: track}
	l.senders = append(l.senders, s)
	return s, nil
}

func (l *Link) Senders() []peer.Sender {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]peer.Sender, 0, len(l.senders))
	for _, s := range l.senders {
		out = append(out, s)
	}
	return out
}

func (l *Link) liveTracks() int {
	n := 0
	for _, s := range l.senders {
		if s.track != nil {
			n++
		}
	}
	return n
}

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) { l.onCandidate = fn }
func (l *Link) OnTrack(fn func(peer.RemoteTrack))                { l.onTrack = fn }
func (l *Link) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.onState = fn
}

// EmitCandidate simulates a locally gathered candidate.
func (l *Link) EmitCandidate(candidate string) {
	if l.onCandidate != nil {
		l.onCandidate(webrtc.ICECandidateInit{Candidate: candidate})
	}
}

// EmitTrack simulates an incoming remote track.
func (l *Link) EmitTrack(t peer.RemoteTrack) {
	if l.onTrack != nil {
		l.onTrack(t)
	}
}

// SetConnectionState changes the connection state and notifies.
func (l *Link) SetConnectionState(s webrtc.PeerConnectionState) {
	l.mu.Lock()
	l.conn = s
	l.mu.Unlock()
	if l.onState != nil {
		l.onState(s)
	}
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.conn = webrtc.PeerConnectionStateClosed
	return nil
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Sender is a fake track slot.
type Sender struct {
	kind     webrtc.RTPCodecType
	track    webrtc.TrackLocal
	Replaced int
}

func (s *Sender) Kind() webrtc.RTPCodecType { return s.kind }
func (s *Sender) Track() webrtc.TrackLocal  { return s.track }
func (s *Sender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.track = t
	s.Replaced++
	return nil
}

// Track is a fake remote track.
type Track struct {
	TrackID string
	Stream  string
	Type    webrtc.RTPCodecType
}

func (t Track) ID() string                { return t.TrackID }
func (t Track) StreamID() string          { return t.Stream }
func (t Track) Kind() webrtc.RTPCodecType { return t.Type }

// Factory hands out fake links and remembers them per participant.
type Factory struct {
	mu    sync.Mutex
	links map[string][]*Link
	// Configure, when set, runs on every link before it is returned.
	Configure func(id string, l *Link)
	Err       error
}

func (f *Factory) New(id string) (peer.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.links == nil {
		f.links = make(map[string][]*Link)
	}
	l := NewLink(id)
	if f.Configure != nil {
		f.Configure(id, l)
	}
	f.links[id] = append(f.links[id], l)
	return l, nil
}

// Last returns the most recent link created for id.
func (f *Factory) Last(id string) *Link {
	f.mu.Lock()
	defer f.mu.Unlock()
	ls := f.links[id]
	if len(ls) == 0 {
		return nil
	}
	return ls[len(ls)-1]
}

// Count returns how many links were created for id.
func (f *Factory) Count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links[id])
}

// Outbox records sent messages.
type Outbox struct {
	mu   sync.Mutex
	sent []*signaling.Message
	Err  error
}

func (o *Outbox) Send(msg *signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.sent = append(o.sent, msg)
	return nil
}

// Messages returns everything sent so far.
func (o *Outbox) Messages() []*signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*signaling.Message(nil), o.sent...)
}

// OfType returns sent messages of the given type.
func (o *Outbox) OfType(typ string) []*signaling.Message {
	var out []*signaling.Message
	for _, m := range o.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Types lists the type of every sent message in order.
func (o *Outbox) Types() []string {
	var out []string
	for _, m := range o.Messages() {
		out = append(out, m.Type)
	}
	return out
}

func (o *Outbox) Reset() {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
}
