package peer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeNative struct {
	mu sync.Mutex

	peerID     core.ConnectionID
	tracks     []webrtc.TrackLocal
	offers     int
	answers    int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int

	setRemoteErr error
	offerErr     error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (f *fakeNative) AddLocalTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeNative) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + string(f.peerID)}, nil
}

func (f *fakeNative) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(f.peerID)}, nil
}

func (f *fakeNative) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeNative) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeNative) OnICECandidate(fn func(webrtc.ICECandidateInit))             { f.onICE = fn }
func (f *fakeNative) OnTrack(fn func(RemoteTrack))                                { f.onTrack = fn }
func (f *fakeNative) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakeNative) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeNative) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type sdpCall struct {
	peer core.ConnectionID
	desc webrtc.SessionDescription
}

type iceCall struct {
	peer      core.ConnectionID
	candidate webrtc.ICECandidateInit
}

type fakeSignaler struct {
	mu  sync.Mutex
	sdp []sdpCall
	ice []iceCall
}

func (s *fakeSignaler) RelayICE(peerID core.ConnectionID, _ domain.ChannelID, c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ice = append(s.ice, iceCall{peerID, c})
	return nil
}

func (s *fakeSignaler) RelaySDP(peerID core.ConnectionID, _ domain.ChannelID, d webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdp = append(s.sdp, sdpCall{peerID, d})
	return nil
}

func (s *fakeSignaler) sdpCalls() []sdpCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sdpCall(nil), s.sdp...)
}

type fakeMedia struct {
	calls int
	err   error
	track webrtc.TrackLocal
}

func (f *fakeMedia) LocalTracks(context.Context) ([]webrtc.TrackLocal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []webrtc.TrackLocal{f.track}, nil
}

type fakeTrack struct {
	id      string
	packets chan *rtp.Packet
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) StreamID() string          { return "stream-" + t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}}
}

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type fakeSink struct {
	mu      sync.Mutex
	written int
	closed  bool
	err     error
}

func (s *fakeSink) WriteRTP(*rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.written++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) state() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.closed
}

type harness struct {
	mesh    *Mesh
	sig     *fakeSignaler
	media   *fakeMedia
	mu      sync.Mutex
	natives map[core.ConnectionID][]*fakeNative
	snaps   []Snapshot
	nextErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "me")
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		sig:     &fakeSignaler{},
		media:   &fakeMedia{track: track},
		natives: make(map[core.ConnectionID][]*fakeNative),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.mesh = NewMesh(ctx, Options{
		Factory:  h.factory,
		Signaler: h.sig,
		Media:    h.media,
	})
	off := h.mesh.Subscribe(func(s Snapshot) {
		h.mu.Lock()
		h.snaps = append(h.snaps, s)
		h.mu.Unlock()
	})
	t.Cleanup(off)
	return h
}

func (h *harness) factory(id core.ConnectionID) (NativeConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.nextErr != nil {
		return nil, h.nextErr
	}
	n := &fakeNative{peerID: id}
	h.natives[id] = append(h.natives[id], n)
	return n, nil
}

func (h *harness) native(id core.ConnectionID) *fakeNative {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.natives[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (h *harness) publishes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snaps)
}

func (h *harness) last() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snaps[len(h.snaps)-1]
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

var errBoom = errors.New("boom")
