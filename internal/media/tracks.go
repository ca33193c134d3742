package media

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// SampleStream holds pion sample tracks fed by the application.
type SampleStream struct {
	Video *webrtc.TrackLocalStaticSample
	Audio *webrtc.TrackLocalStaticSample

	once    sync.Once
	onClose func()
}

// NewSampleStream creates a stream with the tracks kind needs: VP8 video
// for screen and camera, Opus audio for the microphone.
func NewSampleStream(kind Kind) (*SampleStream, error) {
	streamID := "huddle-" + uuid.NewString()
	s := &SampleStream{}

	switch kind {
	case Screen, Camera:
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			kind.String(), streamID,
		)
		if err != nil {
			return nil, err
		}
		s.Video = track
	case Microphone:
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"microphone", streamID,
		)
		if err != nil {
			return nil, err
		}
		s.Audio = track
	default:
		return nil, ErrUnknownKind
	}
	return s, nil
}

func (s *SampleStream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.Video != nil {
		out = append(out, s.Video)
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	return out
}

// Close runs the release hook once.
func (s *SampleStream) Close() error {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// StaticProvider hands out empty sample tracks. Samples are written by
// whoever owns the returned stream, for example PlayIVF.
type StaticProvider struct {
	// IVFPath, when set, is looped into every video track acquired.
	IVFPath string
}

func (p StaticProvider) Acquire(ctx context.Context, kind Kind) (Stream, error) {
	s, err := NewSampleStream(kind)
	if err != nil {
		return nil, err
	}
	if p.IVFPath != "" && s.Video != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.onClose = cancel
		go LoopIVF(ctx, p.IVFPath, s.Video)
	}
	return s, nil
}
