package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const silenceFrame = 20 * time.Millisecond

// opus TOC for a 20ms CELT frame carrying digital silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilentAudio is a MediaProvider with one Opus track that carries silence.
// It keeps a link alive and negotiated without a capture device.
type SilentAudio struct {
	StreamID string

	once  sync.Once
	track *webrtc.TrackLocalStaticSample
	err   error
}

func (s *SilentAudio) LocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	s.once.Do(func() {
		stream := s.StreamID
		if stream == "" {
			stream = "headless"
		}
		s.track, s.err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", stream,
		)
		if s.err != nil {
			s.err = fmt.Errorf("silent track: %w", s.err)
			return
		}
		go s.pump(ctx)
	})
	if s.err != nil {
		return nil, s.err
	}
	return []webrtc.TrackLocal{s.track}, nil
}

func (s *SilentAudio) pump(ctx context.Context) {
	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceFrame}); err != nil {
				log.Debug().Str("module", "peer.media").Err(err).Msg("silence write")
			}
		}
	}
}
