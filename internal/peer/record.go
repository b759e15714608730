package peer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// OggRecorder writes every inbound Opus stream to <dir>/<peer>-<track>.ogg.
// Other codecs are skipped.
func OggRecorder(dir string) SinkFactory {
	return func(peerID core.ConnectionID, track RemoteTrack) (Sink, error) {
		if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
			return nil, nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("record dir: %w", err)
		}
		name := filepath.Join(dir, fmt.Sprintf("%s-%s.ogg", peerID, track.ID()))
		w, err := oggwriter.New(name, 48000, 2)
		if err != nil {
			return nil, fmt.Errorf("ogg writer %s: %w", name, err)
		}
		return w, nil
	}
}
