// Package media models what the local participant shares. Capture itself
// lives behind Provider; this package only tracks which kind is active and
// hands pion tracks to the peer links.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrUnknownKind = errors.New("unknown media kind")

// Kind is what a Provider is asked to capture.
type Kind int

const (
	Screen Kind = iota + 1
	Camera
	Microphone
)

func (k Kind) String() string {
	switch k {
	case Screen:
		return "screen"
	case Camera:
		return "camera"
	case Microphone:
		return "microphone"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseShareKind parses the share_type wire value.
func ParseShareKind(s string) (Kind, error) {
	switch s {
	case "screen", "":
		return Screen, nil
	case "camera":
		return Camera, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ShareState is either idle or sharing exactly one kind.
type ShareState struct {
	kind Kind
}

// Idle is the zero ShareState.
func Idle() ShareState { return ShareState{} }

// Sharing returns the state for an active share of kind.
func Sharing(kind Kind) ShareState { return ShareState{kind: kind} }

func (s ShareState) Active() bool { return s.kind != 0 }

// Kind returns the shared kind and whether anything is shared.
func (s ShareState) Kind() (Kind, bool) { return s.kind, s.kind != 0 }

func (s ShareState) String() string {
	if !s.Active() {
		return "idle"
	}
	return "sharing(" + s.kind.String() + ")"
}

// Stream is a set of local tracks acquired together.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Provider acquires local media.
type Provider interface {
	Acquire(ctx context.Context, kind Kind) (Stream, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, kind Kind) (Stream, error)

func (f ProviderFunc) Acquire(ctx context.Context, kind Kind) (Stream, error) {
	return f(ctx, kind)
}
