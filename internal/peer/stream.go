package peer

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

type sinkEntry struct {
	sink  Sink
	state atomic.Int32
}

func (e *sinkEntry) State() SinkState { return SinkState(e.state.Load()) }
func (e *sinkEntry) MarkDelete()      { e.state.Store(int32(SinkStateDelete)) }

// StreamInfo is the published view of one inbound stream.
type StreamInfo struct {
	TrackID    string              `json:"trackId"`
	StreamID   string              `json:"streamId"`
	Kind       webrtc.RTPCodecType `json:"kind"`
	MimeType   string              `json:"mimeType"`
	Packets    uint64              `json:"packets"`
	Bytes      uint64              `json:"bytes"`
	LastPacket time.Time           `json:"lastPacket"`
}

// streamSlot reads one remote track, meters it and forwards packets to sinks.
type streamSlot struct {
	peerID core.ConnectionID
	track  RemoteTrack

	mu    sync.RWMutex
	sinks map[string]*sinkEntry

	packets    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

func newStreamSlot(peerID core.ConnectionID, track RemoteTrack, cancel context.CancelFunc) *streamSlot {
	return &streamSlot{
		peerID: peerID,
		track:  track,
		sinks:  make(map[string]*sinkEntry),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *streamSlot) AddSink(name string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[name] = &sinkEntry{sink: sink}
}

func (s *streamSlot) SetMuted(name string, muted bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sinks[name]
	if !ok || e.State() == SinkStateDelete {
		return
	}
	if muted {
		e.state.Store(int32(SinkStateMuted))
	} else {
		e.state.Store(int32(SinkStateOk))
	}
}

// loop runs until the track ends or ctx is cancelled.
func (s *streamSlot) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("stream ctx done")
			s.closeSinks()
			return
		default:
		}
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("stream ended")
			s.closeSinks()
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(pkt.MarshalSize()))
		s.lastPacket.Store(time.Now().UnixNano())
		s.forward(pkt, logger)
	}
}

func (s *streamSlot) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	s.mu.RLock()
	snapshot := maps.Clone(s.sinks)
	s.mu.RUnlock()

	var dirty []string
	for name, e := range snapshot {
		switch e.State() {
		case SinkStateDelete:
			dirty = append(dirty, name)
		case SinkStateMuted:
		case SinkStateOk:
			if err := e.sink.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("sink", name).Msg("sink write error, dropping sink")
				e.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}
	if len(dirty) > 0 {
		s.cleanupDeleted(dirty)
	}
}

func (s *streamSlot) cleanupDeleted(dirty []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range dirty {
		if e, ok := s.sinks[name]; ok {
			_ = e.sink.Close()
			delete(s.sinks, name)
		}
	}
}

func (s *streamSlot) closeSinks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.sinks {
		e.MarkDelete()
		_ = e.sink.Close()
		delete(s.sinks, name)
	}
}

func (s *streamSlot) stop() {
	s.cancel()
}

func (s *streamSlot) info() StreamInfo {
	si := StreamInfo{
		TrackID:  s.track.ID(),
		StreamID: s.track.StreamID(),
		Kind:     s.track.Kind(),
		MimeType: s.track.Codec().MimeType,
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
	}
	if ns := s.lastPacket.Load(); ns > 0 {
		si.LastPacket = time.Unix(0, ns)
	}
	return si
}
