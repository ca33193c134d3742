package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/huddle/internal/loop/looptest"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/peer/peertest"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listener struct {
	tracks   []string
	speaking []string
}

func (l *listener) ViewerAudioTrack(id string, t peer.RemoteTrack) {
	l.tracks = append(l.tracks, id+":"+t.ID())
}

func (l *listener) SpeakingChanged(id string, on bool) {
	state := "off"
	if on {
		state = "on"
	}
	l.speaking = append(l.speaking, id+":"+state)
}

type side struct {
	ch       *Channel
	links    *peertest.Factory
	out      *peertest.Outbox
	listener *listener
	micCalls int
	micErr   error
}

func newSide() *side {
	s := &side{links: &peertest.Factory{}, out: &peertest.Outbox{}, listener: &listener{}}
	s.ch = New(Deps{
		Factory: s.links.New,
		Outbox:  s.out,
		Exec:    &looptest.Inline{},
		Microphone: media.ProviderFunc(func(_ context.Context, kind media.Kind) (media.Stream, error) {
			s.micCalls++
			if s.micErr != nil {
				return nil, s.micErr
			}
			return media.NewSampleStream(kind)
		}),
		Listener: s.listener,
	})
	return s
}

func (s *side) speak(t *testing.T, presenter string) error {
	t.Helper()
	var got error
	called := false
	s.ch.StartSpeaking(context.Background(), presenter, func(err error) { got, called = err, true })
	require.True(t, called)
	return got
}

func sdp(typ webrtc.SDPType, body string) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: typ, SDP: body}
}

func TestStartSpeakingSendsOffer(t *testing.T) {
	v := newSide()

	require.NoError(t, v.speak(t, "pres"))

	offers := v.out.OfType(signaling.TypeViewerAudioOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "pres", offers[0].Target)
	assert.Equal(t, webrtc.SDPTypeOffer, offers[0].SDP.Type)

	link := v.links.Last("pres")
	require.Len(t, link.Senders(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, link.Senders()[0].Kind())

	id, ok := v.ch.Speaking()
	assert.True(t, ok)
	assert.Equal(t, "pres", id)
	assert.Equal(t, []string{"pres:on"}, v.listener.speaking)

	assert.ErrorIs(t, v.speak(t, "pres"), ErrAlreadySpeaking)
	assert.Equal(t, 1, v.micCalls)
}

func TestStartSpeakingErrors(t *testing.T) {
	v := newSide()
	assert.ErrorIs(t, v.speak(t, ""), ErrNoTarget)

	v.micErr = errors.New("no microphone")
	assert.EqualError(t, v.speak(t, "pres"), "no microphone")
	_, ok := v.ch.Speaking()
	assert.False(t, ok)

	v.micErr = nil
	v.links.Err = peertest.ErrInjected
	assert.ErrorIs(t, v.speak(t, "pres"), peertest.ErrInjected)
	assert.Empty(t, v.out.Messages())
}

func TestStopSpeaking(t *testing.T) {
	v := newSide()
	require.NoError(t, v.speak(t, "pres"))
	v.out.Reset()

	v.ch.StopSpeaking()

	stopped := v.out.OfType(signaling.TypeViewerAudioStopped)
	require.Len(t, stopped, 1)
	assert.Empty(t, stopped[0].Target)
	assert.True(t, v.links.Last("pres").Closed())
	_, ok := v.ch.Speaking()
	assert.False(t, ok)

	v.ch.StopSpeaking()
	assert.Len(t, v.out.Messages(), 1)
}

func TestAnswerAppliedOnlyWithLocalOffer(t *testing.T) {
	v := newSide()
	v.ch.HandleAnswer("pres", sdp(webrtc.SDPTypeAnswer, "a"))

	require.NoError(t, v.speak(t, "pres"))
	assert.True(t, v.ch.HandleCandidate("pres", webrtc.ICECandidateInit{Candidate: "c1"}))
	assert.Empty(t, v.links.Last("pres").Applied())

	v.ch.HandleAnswer("other", sdp(webrtc.SDPTypeAnswer, "a"))
	assert.Nil(t, v.links.Last("pres").RemoteDescription())

	v.ch.HandleAnswer("pres", sdp(webrtc.SDPTypeAnswer, "a"))
	assert.Equal(t, []string{"c1"}, v.links.Last("pres").Applied())

	v.ch.HandleAnswer("pres", sdp(webrtc.SDPTypeAnswer, "dup"))
	assert.Equal(t, "a", v.links.Last("pres").RemoteDescription().SDP)
}

func TestHandleCandidateWithoutLink(t *testing.T) {
	v := newSide()
	assert.False(t, v.ch.HandleCandidate("nobody", webrtc.ICECandidateInit{Candidate: "c"}))
}

func TestPresenterSideLifecycle(t *testing.T) {
	p := newSide()

	p.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o"))

	answers := p.out.OfType(signaling.TypeViewerAudioAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "viewer", answers[0].Target)
	assert.Equal(t, []string{"viewer"}, p.ch.Listeners())

	link := p.links.Last("viewer")
	link.EmitTrack(peertest.Track{TrackID: "mic", Type: webrtc.RTPCodecTypeAudio})
	assert.Equal(t, []string{"viewer:mic"}, p.listener.tracks)

	assert.True(t, p.ch.HandleCandidate("viewer", webrtc.ICECandidateInit{Candidate: "c"}))
	assert.Equal(t, []string{"c"}, link.Applied())

	p.ch.HandleStopped("viewer")
	assert.Empty(t, p.ch.Listeners())
	assert.True(t, link.Closed())
}

func TestRepeatedOfferReplacesInboundLink(t *testing.T) {
	p := newSide()
	p.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o1"))
	first := p.links.Last("viewer")
	p.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o2"))

	assert.True(t, first.Closed())
	assert.Equal(t, 2, p.links.Count("viewer"))
	assert.Equal(t, []string{"viewer"}, p.ch.Listeners())
}

func TestFailedOfferLeavesNoEntry(t *testing.T) {
	p := newSide()
	p.links.Configure = func(_ string, l *peertest.Link) { l.FailSetRemote = true }

	p.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o"))

	assert.Empty(t, p.ch.Listeners())
	assert.Empty(t, p.out.Messages())
}

func TestLinkFailureTearsDown(t *testing.T) {
	p := newSide()
	p.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o"))
	p.links.Last("viewer").SetConnectionState(webrtc.PeerConnectionStateFailed)
	assert.Empty(t, p.ch.Listeners())

	v := newSide()
	require.NoError(t, v.speak(t, "pres"))
	v.links.Last("pres").SetConnectionState(webrtc.PeerConnectionStateClosed)
	_, ok := v.ch.Speaking()
	assert.False(t, ok)
	assert.Equal(t, []string{"pres:on", "pres:off"}, v.listener.speaking)
}

func TestLocalCandidatesUseTarget(t *testing.T) {
	v := newSide()
	require.NoError(t, v.speak(t, "pres"))
	v.links.Last("pres").EmitCandidate("host")

	c := v.out.OfType(signaling.TypeICECandidate)
	require.Len(t, c, 1)
	assert.Equal(t, "pres", c[0].Target)
}

func TestRemoveParticipant(t *testing.T) {
	s := newSide()
	require.NoError(t, s.speak(t, "pres"))
	s.ch.HandleOffer("viewer", sdp(webrtc.SDPTypeOffer, "o"))

	s.ch.RemoveParticipant("viewer")
	assert.Empty(t, s.ch.Listeners())

	s.ch.RemoveParticipant("pres")
	_, ok := s.ch.Speaking()
	assert.False(t, ok)
	assert.Empty(t, s.out.OfType(signaling.TypeViewerAudioStopped))
}

// A viewer speaks to a presenter and then stops; messages are relayed by hand.
func TestViewerToPresenterRoundTrip(t *testing.T) {
	viewer, presenter := newSide(), newSide()

	require.NoError(t, viewer.speak(t, "P"))
	offer := viewer.out.OfType(signaling.TypeViewerAudioOffer)[0]
	presenter.ch.HandleOffer("V", offer.SDP)

	answer := presenter.out.OfType(signaling.TypeViewerAudioAnswer)[0]
	viewer.ch.HandleAnswer("P", answer.SDP)
	assert.NotNil(t, viewer.links.Last("P").RemoteDescription())
	assert.Equal(t, []string{"V"}, presenter.ch.Listeners())

	viewer.ch.StopSpeaking()
	require.Len(t, viewer.out.OfType(signaling.TypeViewerAudioStopped), 1)
	assert.True(t, viewer.links.Last("P").Closed())

	presenter.ch.HandleStopped("V")
	assert.Empty(t, presenter.ch.Listeners())
	assert.True(t, presenter.links.Last("V").Closed())
}
