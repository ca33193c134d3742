// Package peer owns one peer link per remote participant and drives the
// offer/answer/candidate exchange with each of them.
package peer

import (
	"github.com/pion/webrtc/v4"
)

// Link is a direct media connection to one remote participant.
// Callbacks registered with On* are delivered on the session loop.
type Link interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	AddICECandidate(c webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	Senders() []Sender

	OnICECandidate(fn func(c webrtc.ICECandidateInit))
	OnTrack(fn func(t RemoteTrack))
	OnConnectionStateChange(fn func(s webrtc.PeerConnectionState))

	Close() error
}

// Sender is one outgoing track slot on a link.
type Sender interface {
	// Kind is fixed at creation and survives ReplaceTrack(nil).
	Kind() webrtc.RTPCodecType
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is satisfied by *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// Factory creates a link for the given participant.
type Factory func(participantID string) (Link, error)

// usable reports whether a link can still carry a negotiation.
func usable(s webrtc.PeerConnectionState) bool {
	return s != webrtc.PeerConnectionStateFailed && s != webrtc.PeerConnectionStateClosed
}
