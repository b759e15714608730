// Package peer is the client side of the mesh: one native peer connection
// per remote signaling connection, negotiated over the signaling socket.
package peer

import (
	"context"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// NativeConn is the platform peer connection. CreateOffer and CreateAnswer
// also install the result as the local description.
type NativeConn interface {
	AddLocalTrack(webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// RemoteTrack is the read side of an inbound media track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type NativeFactory func(peerID core.ConnectionID) (NativeConn, error)

// Signaler carries negotiation messages to a remote connection.
type Signaler interface {
	RelayICE(peerID core.ConnectionID, channelID domain.ChannelID, candidate webrtc.ICECandidateInit) error
	RelaySDP(peerID core.ConnectionID, channelID domain.ChannelID, desc webrtc.SessionDescription) error
}

// MediaProvider supplies the local tracks attached to every peer link.
type MediaProvider interface {
	LocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error)
}

// Sink consumes RTP of one inbound stream.
type Sink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// SinkFactory may return a nil Sink to skip a track.
type SinkFactory func(peerID core.ConnectionID, track RemoteTrack) (Sink, error)
