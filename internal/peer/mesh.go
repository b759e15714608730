package peer

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type LinkState uint8

const (
	LinkConnecting LinkState = iota
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s LinkState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PeerInfo is the published view of one link.
type PeerInfo struct {
	PeerID    core.ConnectionID `json:"peerId"`
	UserID    domain.UserID     `json:"userId"`
	ChannelID domain.ChannelID  `json:"channelId"`
	State     LinkState         `json:"state"`
	Streams   []StreamInfo      `json:"streams,omitempty"`
}

// Snapshot is the full peer map, keyed by remote connection id.
type Snapshot map[core.ConnectionID]PeerInfo

type link struct {
	peerID    core.ConnectionID
	userID    domain.UserID
	channelID domain.ChannelID
	native    NativeConn

	// guarded by Mesh.mu
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	streams   map[string]*streamSlot
}

type Options struct {
	Factory  NativeFactory
	Signaler Signaler
	Media    MediaProvider // optional; receive-only without it
	Sinks    SinkFactory   // optional
}

// Mesh holds one native link per remote connection id.
type Mesh struct {
	ctx  context.Context
	opts Options

	mu    sync.Mutex
	links map[core.ConnectionID]*link

	mediaMu sync.Mutex
	fetched bool
	tracks  []webrtc.TrackLocal

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

func NewMesh(ctx context.Context, opts Options) *Mesh {
	return &Mesh{
		ctx:   ctx,
		opts:  opts,
		links: make(map[core.ConnectionID]*link),
		subs:  make(map[int]func(Snapshot)),
	}
}

func (m *Mesh) logger(peerID core.ConnectionID) *zerolog.Logger {
	l := log.With().Str("module", "peer.mesh").Str("peer", string(peerID)).Logger()
	return &l
}

// Subscribe delivers the current map immediately and again after every change.
func (m *Mesh) Subscribe(fn func(Snapshot)) (off func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	fn(m.Snapshot())

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Mesh) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Mesh) snapshotLocked() Snapshot {
	s := make(Snapshot, len(m.links))
	for id, l := range m.links {
		info := PeerInfo{PeerID: id, UserID: l.userID, ChannelID: l.channelID, State: l.state}
		for _, key := range slices.Sorted(maps.Keys(l.streams)) {
			info.Streams = append(info.Streams, l.streams[key].info())
		}
		s[id] = info
	}
	return s
}

func (m *Mesh) publish() {
	snap := m.Snapshot()
	m.subMu.Lock()
	fns := slices.Collect(maps.Values(m.subs))
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (m *Mesh) get(id core.ConnectionID) *link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

func (m *Mesh) currentLocked(l *link) bool {
	return m.links[l.peerID] == l
}

// AddPeer opens a link to msg.PeerID. An existing link to the same id is
// closed and replaced.
func (m *Mesh) AddPeer(msg protocol.AddPeer) {
	logger := m.logger(msg.PeerID)
	if msg.PeerID == "" {
		logger.Warn().Msg("addPeer without peer id")
		return
	}

	native, err := m.opts.Factory(msg.PeerID)
	if err != nil {
		logger.Error().Err(err).Msg("create native connection failed")
		return
	}

	l := &link{
		peerID:    msg.PeerID,
		userID:    msg.UserID,
		channelID: msg.ChannelID,
		native:    native,
		state:     LinkConnecting,
		streams:   make(map[string]*streamSlot),
	}

	native.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if !m.isCurrent(l) {
			return
		}
		if err := m.opts.Signaler.RelayICE(l.peerID, l.channelID, c); err != nil {
			logger.Error().Err(err).Msg("relay ice failed")
		}
	})
	native.OnTrack(func(t RemoteTrack) { m.attachTrack(l, t) })
	native.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { m.onState(l, s) })

	m.mu.Lock()
	old := m.links[msg.PeerID]
	m.links[msg.PeerID] = l
	m.mu.Unlock()

	if old != nil {
		logger.Warn().Msg("duplicate addPeer, replacing link")
		m.closeLink(old)
	}
	logger.Info().
		Str("user", msg.UserID.String()).
		Bool("createOffer", msg.CreateOffer).
		Msg("peer added")
	m.publish()

	for _, track := range m.localTracks() {
		if err := native.AddLocalTrack(track); err != nil {
			logger.Error().Err(err).Str("track", track.ID()).Msg("add local track failed")
		}
	}

	if !msg.CreateOffer {
		return
	}
	offer, err := native.CreateOffer()
	if err != nil {
		m.fail(l, err, "create offer failed")
		return
	}
	if err := m.opts.Signaler.RelaySDP(l.peerID, l.channelID, offer); err != nil {
		logger.Error().Err(err).Msg("relay offer failed")
	}
}

// HandleSessionDescription applies a remote offer or answer. An offer is
// answered on the same link.
func (m *Mesh) HandleSessionDescription(msg protocol.SDPMessage) {
	logger := m.logger(msg.PeerID)
	l := m.get(msg.PeerID)
	if l == nil {
		logger.Warn().Msg("session description for unknown peer, ignoring")
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(msg.Description, &desc); err != nil {
		m.fail(l, err, "malformed session description")
		return
	}
	if err := l.native.SetRemoteDescription(desc); err != nil {
		m.fail(l, err, "set remote description failed")
		return
	}

	m.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := l.native.AddICECandidate(c); err != nil {
			logger.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}

	if desc.Type != webrtc.SDPTypeOffer {
		return
	}
	answer, err := l.native.CreateAnswer()
	if err != nil {
		m.fail(l, err, "create answer failed")
		return
	}
	if err := m.opts.Signaler.RelaySDP(l.peerID, l.channelID, answer); err != nil {
		logger.Error().Err(err).Msg("relay answer failed")
	}
}

// HandleICECandidate adds a remote candidate, buffering it until the remote
// description is in place.
func (m *Mesh) HandleICECandidate(msg protocol.ICEMessage) {
	logger := m.logger(msg.PeerID)
	l := m.get(msg.PeerID)
	if l == nil {
		logger.Warn().Msg("candidate for unknown peer, ignoring")
		return
	}

	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &c); err != nil {
		logger.Warn().Err(err).Msg("malformed candidate")
		return
	}

	m.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		m.mu.Unlock()
		logger.Debug().Msg("candidate buffered")
		return
	}
	m.mu.Unlock()

	if err := l.native.AddICECandidate(c); err != nil {
		logger.Warn().Err(err).Msg("add candidate failed")
	}
}

// RemovePeer closes the link to id. Unknown ids are ignored.
func (m *Mesh) RemovePeer(id core.ConnectionID) {
	m.mu.Lock()
	l, ok := m.links[id]
	delete(m.links, id)
	m.mu.Unlock()

	if !ok {
		m.logger(id).Debug().Msg("removePeer for unknown peer")
		return
	}
	m.closeLink(l)
	m.logger(id).Info().Msg("peer removed")
	m.publish()
}

// RemoveAll closes every link. Safe to call repeatedly.
func (m *Mesh) RemoveAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[core.ConnectionID]*link)
	m.mu.Unlock()

	if len(links) == 0 {
		return
	}
	for _, l := range links {
		m.closeLink(l)
	}
	log.Info().Str("module", "peer.mesh").Int("count", len(links)).Msg("all peers removed")
	m.publish()
}

func (m *Mesh) isCurrent(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(l)
}

func (m *Mesh) fail(l *link, err error, msg string) {
	m.logger(l.peerID).Error().Err(err).Msg(msg)

	m.mu.Lock()
	current := m.currentLocked(l)
	if current {
		delete(m.links, l.peerID)
	}
	m.mu.Unlock()

	m.closeLink(l)
	if current {
		m.publish()
	}
}

func (m *Mesh) closeLink(l *link) {
	m.mu.Lock()
	if l.state == LinkClosed {
		m.mu.Unlock()
		return
	}
	l.state = LinkClosed
	slots := slices.Collect(maps.Values(l.streams))
	m.mu.Unlock()

	for _, s := range slots {
		s.stop()
	}
	if err := l.native.Close(); err != nil {
		m.logger(l.peerID).Info().Err(err).Msg("native close")
	}
}

func (m *Mesh) onState(l *link, s webrtc.PeerConnectionState) {
	logger := m.logger(l.peerID)
	logger.Debug().Str("state", s.String()).Msg("connection state")

	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		if !m.currentLocked(l) || l.state != LinkConnecting {
			m.mu.Unlock()
			return
		}
		l.state = LinkConnected
		m.mu.Unlock()
		logger.Info().Msg("peer connected")
		m.publish()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.mu.Lock()
		current := m.currentLocked(l)
		if current {
			delete(m.links, l.peerID)
		}
		m.mu.Unlock()
		if !current {
			return
		}
		m.closeLink(l)
		logger.Info().Str("state", s.String()).Msg("peer link closed")
		m.publish()
	}
}

func (m *Mesh) attachTrack(l *link, t RemoteTrack) {
	logger := m.logger(l.peerID).With().Str("track", t.ID()).Str("kind", t.Kind().String()).Logger()

	ctx, cancel := context.WithCancel(m.ctx)
	slot := newStreamSlot(l.peerID, t, cancel)

	if m.opts.Sinks != nil {
		sink, err := m.opts.Sinks(l.peerID, t)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("sink setup failed")
		case sink != nil:
			slot.AddSink("default", sink)
		}
	}

	m.mu.Lock()
	if !m.currentLocked(l) || l.state == LinkClosed {
		m.mu.Unlock()
		cancel()
		slot.closeSinks()
		return
	}
	l.streams[t.ID()] = slot
	m.mu.Unlock()

	logger.Info().Msg("remote track attached")
	m.publish()

	go func() {
		slot.loop(ctx, &logger)
		m.mu.Lock()
		if l.streams[t.ID()] == slot {
			delete(l.streams, t.ID())
		}
		live := m.currentLocked(l)
		m.mu.Unlock()
		if live {
			m.publish()
		}
	}()
}

// localTracks asks the media provider once; a failure leaves the mesh
// receive-only and is retried on the next link.
func (m *Mesh) localTracks() []webrtc.TrackLocal {
	if m.opts.Media == nil {
		return nil
	}
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	if m.fetched {
		return m.tracks
	}
	tracks, err := m.opts.Media.LocalTracks(m.ctx)
	if err != nil {
		log.Error().Str("module", "peer.mesh").Err(err).Msg("local media unavailable")
		return nil
	}
	m.tracks = tracks
	m.fetched = true
	return tracks
}
