package peer

import (
	"sync"

	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// PionLink is the production Link backed by a pion PeerConnection.
// pion invokes callbacks on its own goroutines; PionLink posts them to exec.
type PionLink struct {
	pc   *webrtc.PeerConnection
	exec loop.Executor

	mu      sync.Mutex
	senders []Sender
}

var _ Link = (*PionLink)(nil)

// NewPionLink creates a peer connection with the given ICE configuration.
func NewPionLink(cfg webrtc.Configuration, exec loop.Executor) (*PionLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, signaling.NewError("create peer connection", err)
	}
	return &PionLink{pc: pc, exec: exec}, nil
}

// PionFactory returns a Factory creating PionLinks with cfg resolved per call.
func PionFactory(cfg func() webrtc.Configuration, exec loop.Executor) Factory {
	return func(string) (Link, error) {
		return NewPionLink(cfg(), exec)
	}
}

func (l *PionLink) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *PionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *PionLink) SetLocalDescription(desc webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(desc)
}

func (l *PionLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(desc)
}

func (l *PionLink) RemoteDescription() *webrtc.SessionDescription {
	return l.pc.RemoteDescription()
}

func (l *PionLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *PionLink) ConnectionState() webrtc.PeerConnectionState {
	return l.pc.ConnectionState()
}

func (l *PionLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

func (l *PionLink) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	rtp, err := l.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	s := &pionSender{RTPSender: rtp, kind: track.Kind()}
	go drainRTCP(rtp)

	l.mu.Lock()
	l.senders = append(l.senders, s)
	l.mu.Unlock()
	return s, nil
}

func (l *PionLink) Senders() []Sender {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sender(nil), l.senders...)
}

func (l *PionLink) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		init := c.ToJSON()
		l.exec.Post(func() { fn(init) })
	})
}

func (l *PionLink) OnTrack(fn func(RemoteTrack)) {
	l.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.exec.Post(func() { fn(t) })
	})
}

func (l *PionLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.exec.Post(func() { fn(s) })
	})
}

func (l *PionLink) Close() error {
	return l.pc.Close()
}

type pionSender struct {
	*webrtc.RTPSender
	kind webrtc.RTPCodecType
}

func (s *pionSender) Kind() webrtc.RTPCodecType {
	return s.kind
}

func (s *pionSender) Track() webrtc.TrackLocal {
	return s.RTPSender.Track()
}

// drainRTCP reads incoming RTCP so interceptors such as NACK keep working.
func drainRTCP(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}
