package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// PlayIVF writes every frame of an IVF stream to w, paced by the file's
// timebase. It returns the number of frames written.
func PlayIVF(ctx context.Context, r io.Reader, w SampleWriter) (int, error) {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read IVF header: %w", err)
	}

	frameDuration := 33 * time.Millisecond
	if header.TimebaseDenominator != 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	frames := 0
	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("failed to read IVF frame: %w", err)
		}

		if err := w.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return frames, fmt.Errorf("failed to write sample: %w", err)
		}
		frames++

		select {
		case <-ctx.Done():
			return frames, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LoopIVF replays the file at path into w until ctx is canceled.
func LoopIVF(ctx context.Context, path string, w SampleWriter) {
	logger := log.With().Str("module", "media").Str("file", path).Logger()
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			logger.Error().Err(err).Msg("cannot open IVF file")
			return
		}
		n, err := PlayIVF(ctx, f, w)
		f.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Int("frames", n).Msg("IVF playback stopped")
			return
		}
		if n == 0 {
			return
		}
	}
}
