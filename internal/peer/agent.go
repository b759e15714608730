package peer

import (
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Agent routes server frames to the mesh and tracks the subscribed channel.
type Agent struct {
	Mesh *Mesh

	// OnChannel is called with the latest channel projection; ok is false
	// once the channel is gone.
	OnChannel func(ch domain.ChannelTransfer, ok bool)

	mu      sync.Mutex
	channel *domain.ChannelTransfer
	whoami  *protocol.WhoAmI
}

func NewAgent(mesh *Mesh) *Agent {
	return &Agent{Mesh: mesh}
}

func (a *Agent) Channel() (domain.ChannelTransfer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel == nil {
		return domain.ChannelTransfer{}, false
	}
	return *a.channel, true
}

func (a *Agent) Identity() (protocol.WhoAmI, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.whoami == nil {
		return protocol.WhoAmI{}, false
	}
	return *a.whoami, true
}

func (a *Agent) HandleEnvelope(env protocol.Envelope) {
	logger := log.With().Str("module", "peer.agent").Str("type", string(env.Type)).Logger()

	switch env.Type {
	case protocol.TypeSet, protocol.TypeUpdate:
		var ch domain.ChannelTransfer
		if !a.decode(env, &ch) {
			return
		}
		a.mu.Lock()
		a.channel = &ch
		a.mu.Unlock()
		if a.OnChannel != nil {
			a.OnChannel(ch, true)
		}

	case protocol.TypeRemove:
		var ref protocol.ChannelRef
		if !a.decode(env, &ref) {
			return
		}
		a.mu.Lock()
		current := a.channel != nil && a.channel.ID == ref.ChannelID
		gone := domain.ChannelTransfer{ID: ref.ChannelID}
		if current {
			gone = *a.channel
			a.channel = nil
		}
		a.mu.Unlock()
		if current {
			logger.Info().Str("channel", string(ref.ChannelID)).Msg("channel removed")
			a.Mesh.RemoveAll()
		} else {
			// a refused subscribe; the links of the current channel stay
			logger.Warn().Str("channel", string(ref.ChannelID)).Msg("remove for another channel")
		}
		if a.OnChannel != nil {
			a.OnChannel(gone, false)
		}

	case protocol.TypeAddPeer:
		var msg protocol.AddPeer
		if a.decode(env, &msg) {
			a.Mesh.AddPeer(msg)
		}

	case protocol.TypeRemovePeer:
		var msg protocol.RemovePeer
		if a.decode(env, &msg) {
			a.Mesh.RemovePeer(msg.PeerID)
		}

	case protocol.TypeSessionDescription:
		var msg protocol.SDPMessage
		if a.decode(env, &msg) {
			a.Mesh.HandleSessionDescription(msg)
		}

	case protocol.TypeICECandidate:
		var msg protocol.ICEMessage
		if a.decode(env, &msg) {
			a.Mesh.HandleICECandidate(msg)
		}

	case protocol.TypeWhoAmI:
		var who protocol.WhoAmI
		if a.decode(env, &who) {
			a.mu.Lock()
			a.whoami = &who
			a.mu.Unlock()
			logger.Info().Str("conn", string(who.ConnectionID)).Str("user", who.User.ID.String()).Msg("identity")
		}

	case protocol.TypePong:
		logger.Debug().Msg("pong")

	case protocol.TypeError:
		var e protocol.ErrorMessage
		_ = env.Payload(&e)
		logger.Warn().Str("message", e.Message).Msg("server error")

	default:
		logger.Debug().Msg("unhandled message")
	}
}

func (a *Agent) decode(env protocol.Envelope, v any) bool {
	if err := env.Payload(v); err != nil {
		log.Warn().Str("module", "peer.agent").Str("type", string(env.Type)).Err(err).Msg("bad payload")
		return false
	}
	return true
}
