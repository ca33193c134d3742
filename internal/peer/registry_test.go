package peer_test

import (
	"fmt"
	"testing"

	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/peer/peertest"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	states  []string
	tracks  []string
	removed []string
}

func (e *recordedEvents) PeerStateChanged(id string, s webrtc.PeerConnectionState) {
	e.states = append(e.states, id+":"+s.String())
}
func (e *recordedEvents) RemoteTrackAdded(id string, t peer.RemoteTrack) {
	e.tracks = append(e.tracks, id+":"+t.ID())
}
func (e *recordedEvents) RemoteStreamRemoved(id string) { e.removed = append(e.removed, id) }

type fixture struct {
	reg    *peer.Registry
	links  *peertest.Factory
	out    *peertest.Outbox
	events *recordedEvents
	tracks []webrtc.TrackLocal
	self   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{links: &peertest.Factory{}, out: &peertest.Outbox{}, events: &recordedEvents{}, self: "me"}
	f.reg = peer.NewRegistry(peer.Options{
		Factory:     f.links.New,
		Outbox:      f.out,
		Events:      f.events,
		LocalTracks: func() []webrtc.TrackLocal { return f.tracks },
		SelfID:      func() string { return f.self },
	})
	return f
}

func (f *fixture) share(t *testing.T) {
	t.Helper()
	s, err := media.NewSampleStream(media.Screen)
	require.NoError(t, err)
	f.tracks = s.Tracks()
}

func offer(sdp string) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answer(sdp string) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestEnsurePeerIsIdempotent(t *testing.T) {
	f := newFixture(t)

	a, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	b, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, f.links.Count("bob"))
	assert.Equal(t, 1, f.reg.Len())
}

func TestEnsurePeerReplacesFailedLink(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)

	old := f.links.Last("bob")
	old.SetConnectionState(webrtc.PeerConnectionStateFailed)

	rec, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	assert.Equal(t, 2, f.links.Count("bob"))
	assert.True(t, old.Closed())
	assert.Same(t, f.links.Last("bob"), rec.Link)

	// late events from the replaced link are ignored
	old.SetConnectionState(webrtc.PeerConnectionStateClosed)
	_, ok := f.reg.Get("bob")
	assert.True(t, ok)
}

func TestReplacedLinkStartsWithEmptyQueue(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	f.links.Last("bob").SetConnectionState(webrtc.PeerConnectionStateFailed)

	// trickled to the dead link after it failed
	f.reg.HandleCandidate("bob", cand("stale"))
	require.Equal(t, 1, f.reg.Pending("bob"))

	_, err = f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	assert.Zero(t, f.reg.Pending("bob"))

	f.reg.HandleOffer("bob", offer("o1"))
	assert.Empty(t, f.links.Last("bob").Applied())
	assert.Len(t, f.out.OfType(signaling.TypeAnswer), 1)
}

func TestCreateOfferForWithoutStreamIsNoop(t *testing.T) {
	f := newFixture(t)
	f.reg.CreateOfferFor("bob")

	assert.Empty(t, f.out.Messages())
	assert.Zero(t, f.reg.Len())
}

func TestCreateOfferForSendsOfferOnce(t *testing.T) {
	f := newFixture(t)
	f.share(t)

	f.reg.CreateOfferFor("bob")

	offers := f.out.OfType(signaling.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "bob", offers[0].Target)
	assert.Equal(t, webrtc.SDPTypeOffer, offers[0].SDP.Type)

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.OfferSent, rec.Phase)
	assert.Len(t, rec.Link.Senders(), 1)

	// in-flight negotiation: skipped, not retried
	f.reg.CreateOfferFor("bob")
	assert.Len(t, f.out.OfType(signaling.TypeOffer), 1)
}

func TestRenegotiationReplacesTracks(t *testing.T) {
	f := newFixture(t)
	f.share(t)

	f.reg.CreateOfferFor("bob")
	f.reg.HandleAnswer("bob", answer("a1"))

	f.share(t)
	f.reg.CreateOfferFor("bob")

	rec, _ := f.reg.Get("bob")
	senders := rec.Link.Senders()
	require.Len(t, senders, 1)
	assert.Same(t, f.tracks[0], senders[0].Track())
	assert.Equal(t, 1, senders[0].(*peertest.Sender).Replaced)
	assert.Len(t, f.out.OfType(signaling.TypeOffer), 2)
}

func TestHandleAnswerOutsideLocalOfferIsNoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)

	f.reg.HandleAnswer("bob", answer("stale"))

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.Stable, rec.Phase)
	assert.Nil(t, rec.Link.RemoteDescription())
}

func TestHandleAnswerAppliesAndDrains(t *testing.T) {
	f := newFixture(t)
	f.share(t)
	f.reg.CreateOfferFor("bob")

	f.reg.HandleCandidate("bob", cand("c1"))
	f.reg.HandleCandidate("bob", cand("c2"))
	assert.Equal(t, 2, f.reg.Pending("bob"))

	f.reg.HandleAnswer("bob", answer("a1"))

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.Stable, rec.Phase)
	assert.Equal(t, []string{"c1", "c2"}, f.links.Last("bob").Applied())
	assert.Zero(t, f.reg.Pending("bob"))

	// duplicate answer after settling is ignored
	f.reg.HandleAnswer("bob", answer("a2"))
	assert.Equal(t, "a1", rec.Link.RemoteDescription().SDP)
}

func TestEarlyCandidatesAppliedInOrderAfterOffer(t *testing.T) {
	f := newFixture(t)

	for i := range 55 {
		applied := f.reg.HandleCandidate("bob", cand(fmt.Sprintf("c%d", i)))
		assert.False(t, applied)
	}
	assert.Equal(t, peer.MaxPendingCandidates, f.reg.Pending("bob"))

	f.reg.HandleOffer("bob", offer("o1"))

	applied := f.links.Last("bob").Applied()
	require.Len(t, applied, 50)
	for i := range 50 {
		assert.Equal(t, fmt.Sprintf("c%d", i), applied[i])
	}

	answers := f.out.OfType(signaling.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "bob", answers[0].Target)

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.AnswerSent, rec.Phase)

	// later candidates go straight in
	assert.True(t, f.reg.HandleCandidate("bob", cand("late")))
	assert.Equal(t, "late", f.links.Last("bob").Applied()[50])
}

func TestQueuedCandidateFailureIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.links.Configure = func(_ string, l *peertest.Link) { l.FailAddCandidate = true }

	f.reg.HandleCandidate("bob", cand("c1"))
	f.reg.HandleOffer("bob", offer("o1"))

	assert.Len(t, f.out.OfType(signaling.TypeAnswer), 1)
}

func TestHandleOfferAttachesLocalTracks(t *testing.T) {
	f := newFixture(t)
	f.share(t)

	f.reg.HandleOffer("bob", offer("o1"))

	rec, _ := f.reg.Get("bob")
	assert.Len(t, rec.Link.Senders(), 1)
	assert.Len(t, f.out.OfType(signaling.TypeAnswer), 1)
}

func TestHandleOfferFailureKeepsPhase(t *testing.T) {
	f := newFixture(t)
	f.links.Configure = func(_ string, l *peertest.Link) { l.FailSetRemote = true }

	f.reg.HandleOffer("bob", offer("o1"))

	rec, ok := f.reg.Get("bob")
	require.True(t, ok)
	assert.Equal(t, peer.Stable, rec.Phase)
	assert.Empty(t, f.out.OfType(signaling.TypeAnswer))
}

func TestGlarePoliteSideRollsBack(t *testing.T) {
	f := newFixture(t)
	f.self = "alice"
	f.share(t)

	f.reg.CreateOfferFor("bob")
	f.reg.HandleOffer("bob", offer("from bob"))

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.AnswerSent, rec.Phase)
	assert.Equal(t, "from bob", rec.Link.RemoteDescription().SDP)
	assert.Len(t, f.out.OfType(signaling.TypeAnswer), 1)

	// the answer to our rolled back offer is stale now
	f.reg.HandleAnswer("bob", answer("late"))
	assert.Equal(t, "from bob", rec.Link.RemoteDescription().SDP)
}

func TestGlareImpoliteSideIgnoresOffer(t *testing.T) {
	f := newFixture(t)
	f.self = "zed"
	f.share(t)

	f.reg.CreateOfferFor("bob")
	f.reg.HandleOffer("bob", offer("from bob"))

	rec, _ := f.reg.Get("bob")
	assert.Equal(t, peer.OfferSent, rec.Phase)
	assert.Nil(t, rec.Link.RemoteDescription())
	assert.Empty(t, f.out.OfType(signaling.TypeAnswer))
}

func TestLocalCandidatesAreSent(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)

	f.links.Last("bob").EmitCandidate("host 1")

	sent := f.out.OfType(signaling.TypeICECandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, "bob", sent[0].Target)
	assert.Equal(t, "host 1", sent[0].Candidate.Candidate)
}

func TestHealthFailedClearsQueue(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	f.reg.HandleCandidate("bob", cand("c1"))

	f.links.Last("bob").SetConnectionState(webrtc.PeerConnectionStateDisconnected)

	assert.Zero(t, f.reg.Pending("bob"))
	_, ok := f.reg.Get("bob")
	assert.True(t, ok)
	assert.Equal(t, []string{"bob:disconnected"}, f.events.states)
}

func TestHealthClosedCleansUp(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	link := f.links.Last("bob")
	link.EmitTrack(peertest.Track{TrackID: "v", Stream: "s", Type: webrtc.RTPCodecTypeVideo})
	require.True(t, f.reg.HasRemoteStream("bob"))

	link.SetConnectionState(webrtc.PeerConnectionStateClosed)

	_, ok := f.reg.Get("bob")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob:v"}, f.events.tracks)
	assert.Equal(t, []string{"bob"}, f.events.removed)
}

func TestClosePeerDropsEverything(t *testing.T) {
	f := newFixture(t)
	f.reg.HandleCandidate("bob", cand("c1"))
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)

	f.reg.ClosePeer("bob")

	assert.True(t, f.links.Last("bob").Closed())
	assert.Zero(t, f.reg.Len())
	assert.Zero(t, f.reg.Pending("bob"))
	f.reg.ClosePeer("bob")
}

func TestDropRemoteStream(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.EnsurePeer("bob")
	require.NoError(t, err)
	f.links.Last("bob").EmitTrack(peertest.Track{TrackID: "v", Type: webrtc.RTPCodecTypeVideo})

	f.reg.DropRemoteStream("bob")
	f.reg.DropRemoteStream("bob")

	assert.False(t, f.reg.HasRemoteStream("bob"))
	assert.Equal(t, []string{"bob"}, f.events.removed)
	assert.False(t, f.links.Last("bob").Closed())
}

func TestDetachLocalTracks(t *testing.T) {
	f := newFixture(t)
	f.share(t)
	f.reg.CreateOfferFor("bob")

	f.reg.DetachLocalTracks()

	rec, _ := f.reg.Get("bob")
	assert.Nil(t, rec.Link.Senders()[0].Track())
}

func TestFactoryErrorIsScopedToPeer(t *testing.T) {
	f := newFixture(t)
	f.links.Err = peertest.ErrInjected

	_, err := f.reg.EnsurePeer("bob")
	assert.ErrorIs(t, err, peertest.ErrInjected)
	f.reg.HandleOffer("bob", offer("o"))
	assert.Zero(t, f.reg.Len())
}
