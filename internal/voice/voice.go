// Package voice runs the viewer-to-presenter audio links. They negotiate
// with their own message types and never touch the main presentation links.
package voice

import (
	"context"
	"errors"
	"sort"

	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadySpeaking = errors.New("already speaking")
	ErrNoTarget        = errors.New("no presenter to speak to")
)

// Listener receives side-channel events on the loop.
type Listener interface {
	ViewerAudioTrack(viewerID string, track peer.RemoteTrack)
	SpeakingChanged(presenterID string, speaking bool)
}

type Deps struct {
	Factory    peer.Factory
	Outbox     signaling.Outbox
	Exec       loop.Executor
	Microphone media.Provider
	Listener   Listener
}

type audioLink struct {
	id     string
	link   peer.Link
	queue  *peer.CandidateQueue
	stream media.Stream
}

func (a *audioLink) close() {
	a.link.Close()
	if a.stream != nil {
		a.stream.Close()
	}
}

// Channel is confined to the session loop.
type Channel struct {
	deps Deps
	log  zerolog.Logger

	// outbound is our link to a presenter while speaking.
	outbound *audioLink
	starting bool
	// inbound are links from speaking viewers, keyed by viewer id.
	inbound map[string]*audioLink
}

func New(deps Deps) *Channel {
	return &Channel{
		deps:    deps,
		log:     log.With().Str("module", "voice").Logger(),
		inbound: make(map[string]*audioLink),
	}
}

// Speaking returns the presenter we are speaking to.
func (c *Channel) Speaking() (string, bool) {
	if c.outbound == nil {
		return "", false
	}
	return c.outbound.id, true
}

// Listeners returns the viewers currently speaking to us.
func (c *Channel) Listeners() []string {
	ids := make([]string, 0, len(c.inbound))
	for id := range c.inbound {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Channel) speakingChanged(id string, on bool) {
	if c.deps.Listener != nil {
		c.deps.Listener.SpeakingChanged(id, on)
	}
}

// StartSpeaking opens an audio link to presenterID. The microphone is
// acquired off the loop; done runs on the loop.
func (c *Channel) StartSpeaking(ctx context.Context, presenterID string, done func(error)) {
	if presenterID == "" {
		done(ErrNoTarget)
		return
	}
	if c.outbound != nil || c.starting {
		done(ErrAlreadySpeaking)
		return
	}
	c.starting = true

	mic, exec := c.deps.Microphone, c.deps.Exec
	exec.Go(func() {
		stream, err := mic.Acquire(ctx, media.Microphone)
		exec.Post(func() {
			c.starting = false
			if err != nil {
				done(err)
				return
			}
			done(c.offer(presenterID, stream))
		})
	})
}

func (c *Channel) offer(presenterID string, stream media.Stream) error {
	link, err := c.deps.Factory(presenterID)
	if err != nil {
		stream.Close()
		return signaling.NewPeerError("create audio link", presenterID, err)
	}
	a := &audioLink{id: presenterID, link: link, queue: peer.NewCandidateQueue(peer.MaxPendingCandidates), stream: stream}

	fail := func(op string, err error) error {
		a.close()
		return signaling.NewPeerError(op, presenterID, err)
	}
	for _, t := range stream.Tracks() {
		if _, err := link.AddTrack(t); err != nil {
			return fail("add audio track", err)
		}
	}
	c.wire(a, func() bool { return c.outbound == a }, func() {
		c.outbound = nil
		c.speakingChanged(presenterID, false)
	})

	offer, err := link.CreateOffer()
	if err != nil {
		return fail("create audio offer", err)
	}
	if err := link.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}
	if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeViewerAudioOffer, Target: presenterID, SDP: &offer}); err != nil {
		return fail("send audio offer", err)
	}

	c.outbound = a
	c.speakingChanged(presenterID, true)
	c.log.Info().Str("presenter", presenterID).Msg("speaking")
	return nil
}

// wire hooks link events; drop runs once when the link dies.
func (c *Channel) wire(a *audioLink, current func() bool, drop func()) {
	a.link.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		if !current() {
			return
		}
		if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeICECandidate, Target: a.id, Candidate: &cand}); err != nil {
			c.log.Warn().Str("peer", a.id).Err(err).Msg("failed to send audio candidate")
		}
	})
	a.link.OnTrack(func(t peer.RemoteTrack) {
		if current() && c.deps.Listener != nil {
			c.deps.Listener.ViewerAudioTrack(a.id, t)
		}
	})
	a.link.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if !current() {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.log.Info().Str("peer", a.id).Str("state", s.String()).Msg("audio link lost")
			a.close()
			drop()
		case webrtc.PeerConnectionStateDisconnected:
			a.queue.Reset()
		}
	})
}

// StopSpeaking closes the outbound link and tells the room.
func (c *Channel) StopSpeaking() {
	if c.outbound == nil {
		return
	}
	a := c.outbound
	c.outbound = nil
	a.close()
	if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeViewerAudioStopped}); err != nil {
		c.log.Warn().Err(err).Msg("failed to announce audio stop")
	}
	c.speakingChanged(a.id, false)
}

// HandleOffer accepts a viewer's audio link, replacing any previous one
// from the same viewer.
func (c *Channel) HandleOffer(from string, sdp *webrtc.SessionDescription) {
	if sdp == nil {
		c.fail("handle audio offer", from, peer.ErrMissingSDP)
		return
	}
	if old, ok := c.inbound[from]; ok {
		delete(c.inbound, from)
		old.close()
	}

	link, err := c.deps.Factory(from)
	if err != nil {
		c.fail("create audio link", from, err)
		return
	}
	a := &audioLink{id: from, link: link, queue: peer.NewCandidateQueue(peer.MaxPendingCandidates)}
	c.inbound[from] = a
	c.wire(a, func() bool { return c.inbound[from] == a }, func() { delete(c.inbound, from) })

	if err := link.SetRemoteDescription(*sdp); err != nil {
		c.drop(from, a)
		c.fail("set remote description", from, err)
		return
	}
	c.drain(a)

	answer, err := link.CreateAnswer()
	if err != nil {
		c.drop(from, a)
		c.fail("create audio answer", from, err)
		return
	}
	if err := link.SetLocalDescription(answer); err != nil {
		c.drop(from, a)
		c.fail("set local description", from, err)
		return
	}
	if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeViewerAudioAnswer, Target: from, SDP: &answer}); err != nil {
		c.drop(from, a)
		c.fail("send audio answer", from, err)
		return
	}
	c.log.Info().Str("viewer", from).Msg("viewer speaking")
}

// HandleAnswer completes our outbound link.
func (c *Channel) HandleAnswer(from string, sdp *webrtc.SessionDescription) {
	if sdp == nil {
		c.fail("handle audio answer", from, peer.ErrMissingSDP)
		return
	}
	a := c.outbound
	if a == nil || a.id != from {
		c.log.Debug().Str("peer", from).Msg("audio answer without matching link")
		return
	}
	if st := a.link.SignalingState(); st != webrtc.SignalingStateHaveLocalOffer {
		c.log.Info().Str("peer", from).Str("signaling", st.String()).Msg("stale audio answer ignored")
		return
	}
	if err := a.link.SetRemoteDescription(*sdp); err != nil {
		c.fail("set remote description", from, err)
		return
	}
	c.drain(a)
}

// HandleStopped releases the link of a viewer that stopped speaking.
func (c *Channel) HandleStopped(from string) {
	if a, ok := c.inbound[from]; ok {
		c.drop(from, a)
		c.log.Info().Str("viewer", from).Msg("viewer stopped speaking")
	}
}

// HandleCandidate applies or queues c on whichever audio link belongs to
// from. It reports whether such a link exists.
func (c *Channel) HandleCandidate(from string, cand webrtc.ICECandidateInit) bool {
	matched := false
	if a := c.outbound; a != nil && a.id == from {
		c.applyOrQueue(a, cand)
		matched = true
	}
	if a, ok := c.inbound[from]; ok {
		c.applyOrQueue(a, cand)
		matched = true
	}
	return matched
}

func (c *Channel) applyOrQueue(a *audioLink, cand webrtc.ICECandidateInit) {
	if a.link.RemoteDescription() == nil {
		if !a.queue.Push(cand) {
			c.log.Warn().Str("peer", a.id).Msg("audio candidate queue full, dropping candidate")
		}
		return
	}
	if err := a.link.AddICECandidate(cand); err != nil {
		c.log.Debug().Err(signaling.NewPeerError("add audio candidate", a.id, err)).Msg("candidate rejected")
	}
}

func (c *Channel) drain(a *audioLink) {
	for _, cand := range a.queue.Drain() {
		if err := a.link.AddICECandidate(cand); err != nil {
			c.fail("add queued audio candidate", a.id, err)
		}
	}
}

func (c *Channel) drop(id string, a *audioLink) {
	if c.inbound[id] == a {
		delete(c.inbound, id)
	}
	a.close()
}

// RemoveParticipant drops every audio link involving id.
func (c *Channel) RemoveParticipant(id string) {
	if a, ok := c.inbound[id]; ok {
		c.drop(id, a)
	}
	if a := c.outbound; a != nil && a.id == id {
		c.outbound = nil
		a.close()
		c.speakingChanged(id, false)
	}
}

// Close releases every audio link without notifying the room.
func (c *Channel) Close() {
	for id, a := range c.inbound {
		c.drop(id, a)
	}
	if a := c.outbound; a != nil {
		c.outbound = nil
		a.close()
		c.speakingChanged(a.id, false)
	}
}

func (c *Channel) fail(op, id string, err error) {
	c.log.Warn().Err(signaling.NewPeerError(op, id, err)).Msg("audio negotiation step failed")
}
