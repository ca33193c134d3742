package peer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrWrongState   = errors.New("wrong signaling state")
	ErrMissingSDP   = errors.New("message carries no description")
	ErrGlareIgnored = errors.New("colliding offer ignored")
)

// Phase is the per-peer negotiation phase.
type Phase int

const (
	Stable Phase = iota
	OfferSent
	OfferReceived
	AnswerSent
)

func (p Phase) String() string {
	switch p {
	case Stable:
		return "stable"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case AnswerSent:
		return "answer-sent"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

var legal = map[Phase][]Phase{
	Stable:        {OfferSent, OfferReceived},
	OfferSent:     {Stable},
	OfferReceived: {AnswerSent, Stable},
	AnswerSent:    {Stable},
}

// CanAdvance reports whether to is a legal next phase.
func (p Phase) CanAdvance(to Phase) bool {
	for _, next := range legal[p] {
		if next == to {
			return true
		}
	}
	return false
}

// Record is the registry's view of one remote participant.
type Record struct {
	ID     string
	Link   Link
	Phase  Phase
	Health webrtc.PeerConnectionState
	Tracks []RemoteTrack
}

// Events receives per-peer notifications. All methods run on the loop.
type Events interface {
	PeerStateChanged(id string, state webrtc.PeerConnectionState)
	RemoteTrackAdded(id string, track RemoteTrack)
	RemoteStreamRemoved(id string)
}

type nopEvents struct{}

func (nopEvents) PeerStateChanged(string, webrtc.PeerConnectionState) {}
func (nopEvents) RemoteTrackAdded(string, RemoteTrack)                {}
func (nopEvents) RemoteStreamRemoved(string)                          {}

// Options configures a Registry.
type Options struct {
	Factory Factory
	Outbox  signaling.Outbox
	Events  Events
	// LocalTracks returns the tracks to publish, or nil when not sharing.
	LocalTracks func() []webrtc.TrackLocal
	// SelfID returns the local participant id. On colliding offers the
	// side with the smaller id yields.
	SelfID func() string
	Logger *zerolog.Logger
}

// Registry owns every main peer link. It is confined to the session loop.
type Registry struct {
	opts    Options
	log     zerolog.Logger
	peers   map[string]*Record
	pending map[string]*CandidateQueue
}

func NewRegistry(opts Options) *Registry {
	if opts.Events == nil {
		opts.Events = nopEvents{}
	}
	if opts.LocalTracks == nil {
		opts.LocalTracks = func() []webrtc.TrackLocal { return nil }
	}
	if opts.SelfID == nil {
		opts.SelfID = func() string { return "" }
	}
	logger := log.With().Str("module", "peer").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Registry{
		opts:    opts,
		log:     logger,
		peers:   make(map[string]*Record),
		pending: make(map[string]*CandidateQueue),
	}
}

// Get returns the record for id, if any.
func (r *Registry) Get(id string) (*Record, bool) {
	rec, ok := r.peers[id]
	return rec, ok
}

// IDs returns known participant ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int { return len(r.peers) }

// Pending returns the number of queued candidates for id.
func (r *Registry) Pending(id string) int {
	if q, ok := r.pending[id]; ok {
		return q.Len()
	}
	return 0
}

func (r *Registry) queue(id string) *CandidateQueue {
	q, ok := r.pending[id]
	if !ok {
		q = NewCandidateQueue(MaxPendingCandidates)
		r.pending[id] = q
	}
	return q
}

// EnsurePeer returns the record for id, creating a link when there is none
// or the existing one has failed or closed. A healthy link is never replaced.
func (r *Registry) EnsurePeer(id string) (*Record, error) {
	if rec, ok := r.peers[id]; ok {
		if usable(rec.Link.ConnectionState()) && usable(rec.Health) {
			return rec, nil
		}
		r.log.Debug().Str("peer", id).Str("health", rec.Health.String()).Msg("replacing dead link")
		r.teardown(id, rec)
		delete(r.pending, id)
	}

	link, err := r.opts.Factory(id)
	if err != nil {
		return nil, signaling.NewPeerError("create link", id, err)
	}

	rec := &Record{ID: id, Link: link, Phase: Stable, Health: webrtc.PeerConnectionStateNew}
	r.peers[id] = rec
	r.wire(rec)
	r.log.Debug().Str("peer", id).Msg("peer created")
	return rec, nil
}

// wire registers link callbacks. Events from a link that has since been
// replaced are ignored.
func (r *Registry) wire(rec *Record) {
	id, link := rec.ID, rec.Link

	link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if !r.current(id, link) {
			return
		}
		cand := c
		if err := r.opts.Outbox.Send(&signaling.Message{Type: signaling.TypeICECandidate, Target: id, Candidate: &cand}); err != nil {
			r.log.Warn().Str("peer", id).Err(err).Msg("failed to send local candidate")
		}
	})

	link.OnTrack(func(t RemoteTrack) {
		if !r.current(id, link) {
			return
		}
		rec.Tracks = append(rec.Tracks, t)
		r.log.Info().Str("peer", id).Str("kind", t.Kind().String()).Msg("remote track")
		r.opts.Events.RemoteTrackAdded(id, t)
	})

	link.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !r.current(id, link) {
			return
		}
		r.onHealth(rec, s)
	})
}

func (r *Registry) current(id string, link Link) bool {
	rec, ok := r.peers[id]
	return ok && rec.Link == link
}

func (r *Registry) onHealth(rec *Record, s webrtc.PeerConnectionState) {
	rec.Health = s
	r.log.Debug().Str("peer", rec.ID).Str("state", s.String()).Msg("connection state")
	r.opts.Events.PeerStateChanged(rec.ID, s)

	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if q, ok := r.pending[rec.ID]; ok {
			q.Reset()
		}
	case webrtc.PeerConnectionStateClosed:
		r.ClosePeer(rec.ID)
	case webrtc.PeerConnectionStateConnected:
		r.settle(rec)
	}
}

// advance moves rec to phase to, logging and refusing illegal transitions.
func (r *Registry) advance(rec *Record, to Phase) bool {
	if !rec.Phase.CanAdvance(to) {
		r.log.Warn().Str("peer", rec.ID).Str("from", rec.Phase.String()).Str("to", to.String()).Msg("illegal phase transition ignored")
		return false
	}
	rec.Phase = to
	return true
}

// settle returns an answered negotiation to Stable once the link agrees.
func (r *Registry) settle(rec *Record) {
	if rec.Phase == AnswerSent && rec.Link.SignalingState() == webrtc.SignalingStateStable {
		r.advance(rec, Stable)
	}
}

// attachTracks publishes tracks on the link, reusing a sender of the same
// kind when one exists.
func (r *Registry) attachTracks(rec *Record, tracks []webrtc.TrackLocal) {
	used := make(map[Sender]bool)
	for _, track := range tracks {
		var slot Sender
		for _, s := range rec.Link.Senders() {
			if !used[s] && s.Kind() == track.Kind() {
				slot = s
				break
			}
		}

		if slot != nil {
			used[slot] = true
			if slot.Track() == track {
				continue
			}
			if err := slot.ReplaceTrack(track); err != nil {
				r.log.Warn().Str("peer", rec.ID).Err(signaling.NewPeerError("replace track", rec.ID, err)).Msg("track not attached")
			}
			continue
		}

		s, err := rec.Link.AddTrack(track)
		if err != nil {
			r.log.Warn().Str("peer", rec.ID).Err(signaling.NewPeerError("add track", rec.ID, err)).Msg("track not attached")
			continue
		}
		used[s] = true
	}
}

// DetachLocalTracks clears every published track on every link.
func (r *Registry) DetachLocalTracks() {
	for _, id := range r.IDs() {
		rec := r.peers[id]
		for _, s := range rec.Link.Senders() {
			if s.Track() == nil {
				continue
			}
			if err := s.ReplaceTrack(nil); err != nil {
				r.log.Debug().Str("peer", id).Err(err).Msg("failed to clear track")
			}
		}
	}
}

// CreateOfferFor publishes local tracks to id and sends an offer. It does
// nothing without local media, and skips the offer while another
// negotiation with id is in flight.
func (r *Registry) CreateOfferFor(id string) {
	tracks := r.opts.LocalTracks()
	if len(tracks) == 0 {
		r.log.Debug().Str("peer", id).Msg("no local stream, not offering")
		return
	}

	rec, err := r.EnsurePeer(id)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot offer")
		return
	}
	r.settle(rec)
	r.attachTracks(rec, tracks)

	if st := rec.Link.SignalingState(); st != webrtc.SignalingStateStable || rec.Phase != Stable {
		r.log.Info().Str("peer", id).Str("signaling", st.String()).Str("phase", rec.Phase.String()).Msg("negotiation in flight, offer skipped")
		return
	}

	offer, err := rec.Link.CreateOffer()
	if err != nil {
		r.fail("create offer", id, err)
		return
	}
	if err := rec.Link.SetLocalDescription(offer); err != nil {
		r.fail("set local description", id, err)
		return
	}
	r.advance(rec, OfferSent)

	if err := r.opts.Outbox.Send(&signaling.Message{Type: signaling.TypeOffer, Target: id, SDP: &offer}); err != nil {
		r.fail("send offer", id, err)
	}
}

// HandleOffer answers a remote offer.
func (r *Registry) HandleOffer(from string, sdp *webrtc.SessionDescription) {
	if sdp == nil {
		r.fail("handle offer", from, ErrMissingSDP)
		return
	}

	rec, err := r.EnsurePeer(from)
	if err != nil {
		r.log.Error().Err(err).Msg("cannot answer")
		return
	}
	r.settle(rec)

	if rec.Link.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if r.opts.SelfID() > from {
			r.fail("handle offer", from, ErrGlareIgnored)
			return
		}
		if err := rec.Link.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			r.fail("rollback", from, err)
			return
		}
		r.advance(rec, Stable)
		r.log.Info().Str("peer", from).Msg("rolled back local offer for incoming offer")
	}

	if err := rec.Link.SetRemoteDescription(*sdp); err != nil {
		r.fail("set remote description", from, err)
		return
	}
	r.advance(rec, OfferReceived)
	r.drain(rec)

	if tracks := r.opts.LocalTracks(); len(tracks) > 0 {
		r.attachTracks(rec, tracks)
	}

	answer, err := rec.Link.CreateAnswer()
	if err != nil {
		r.fail("create answer", from, err)
		return
	}
	if err := rec.Link.SetLocalDescription(answer); err != nil {
		r.fail("set local description", from, err)
		return
	}
	if err := r.opts.Outbox.Send(&signaling.Message{Type: signaling.TypeAnswer, Target: from, SDP: &answer}); err != nil {
		r.fail("send answer", from, err)
		return
	}
	r.advance(rec, AnswerSent)
}

// HandleAnswer applies an answer only while our offer is outstanding.
func (r *Registry) HandleAnswer(from string, sdp *webrtc.SessionDescription) {
	if sdp == nil {
		r.fail("handle answer", from, ErrMissingSDP)
		return
	}
	rec, ok := r.peers[from]
	if !ok {
		r.fail("handle answer", from, ErrUnknownPeer)
		return
	}
	if st := rec.Link.SignalingState(); st != webrtc.SignalingStateHaveLocalOffer {
		r.log.Info().Str("peer", from).Str("signaling", st.String()).Msg("stale answer ignored")
		return
	}
	if err := rec.Link.SetRemoteDescription(*sdp); err != nil {
		r.fail("set remote description", from, err)
		return
	}
	r.advance(rec, Stable)
	r.drain(rec)
}

// HandleCandidate applies c when the peer has a remote description and
// queues it otherwise. It reports whether c was applied.
func (r *Registry) HandleCandidate(from string, c webrtc.ICECandidateInit) bool {
	if rec, ok := r.peers[from]; ok && rec.Link.RemoteDescription() != nil {
		if err := rec.Link.AddICECandidate(c); err != nil {
			r.fail("add candidate", from, err)
		}
		return true
	}

	if !r.queue(from).Push(c) {
		r.log.Warn().Str("peer", from).Int("limit", MaxPendingCandidates).Msg("candidate queue full, dropping candidate")
	}
	return false
}

func (r *Registry) drain(rec *Record) {
	q, ok := r.pending[rec.ID]
	if !ok {
		return
	}
	for _, c := range q.Drain() {
		if err := rec.Link.AddICECandidate(c); err != nil {
			r.fail("add queued candidate", rec.ID, err)
		}
	}
}

// HasRemoteStream reports whether id has delivered any remote track.
func (r *Registry) HasRemoteStream(id string) bool {
	rec, ok := r.peers[id]
	return ok && len(rec.Tracks) > 0
}

// DropRemoteStream forgets the remote tracks of id without closing the link.
func (r *Registry) DropRemoteStream(id string) {
	rec, ok := r.peers[id]
	if !ok || len(rec.Tracks) == 0 {
		return
	}
	rec.Tracks = nil
	r.opts.Events.RemoteStreamRemoved(id)
}

// ClosePeer closes the link to id and discards everything held for it.
func (r *Registry) ClosePeer(id string) {
	rec, ok := r.peers[id]
	delete(r.pending, id)
	if !ok {
		return
	}
	r.teardown(id, rec)
	r.log.Debug().Str("peer", id).Msg("peer closed")
}

func (r *Registry) teardown(id string, rec *Record) {
	delete(r.peers, id)
	if err := rec.Link.Close(); err != nil {
		r.log.Debug().Str("peer", id).Err(err).Msg("close link")
	}
	if len(rec.Tracks) > 0 {
		rec.Tracks = nil
		r.opts.Events.RemoteStreamRemoved(id)
	}
}

// CloseAll closes every link.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.ClosePeer(id)
	}
	r.pending = make(map[string]*CandidateQueue)
}

func (r *Registry) fail(op, id string, err error) {
	r.log.Warn().Err(signaling.NewPeerError(op, id, err)).Msg("negotiation step failed")
}
