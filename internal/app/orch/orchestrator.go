// Package orch turns channel membership changes into full-mesh peer
// signaling and relays offers, answers and candidates between peers.
package orch

import (
	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Presence *app.PresenceRegistry
	Rooms    *app.RoomHub

	unsubscribe []func()
}

// New wires the orchestrator to memberJoined/memberLeft on bus.
func New(presence *app.PresenceRegistry, rooms *app.RoomHub, bus *core.Bus) *Orchestrator {
	o := &Orchestrator{Presence: presence, Rooms: rooms}
	o.unsubscribe = append(o.unsubscribe,
		core.Subscribe(bus, o.OnMemberJoined),
		core.Subscribe(bus, o.OnMemberLeft),
	)
	return o
}

func (o *Orchestrator) Stop() {
	for _, off := range o.unsubscribe {
		off()
	}
	o.unsubscribe = nil
}

// OnMemberJoined tells the room about the newcomer, who answers, and tells the
// newcomer about every other online member of the channel, to whom it offers.
func (o *Orchestrator) OnMemberJoined(ev app.MemberJoinedEvent) {
	newcomer := ev.Entry
	frame := protocol.MustEncode(protocol.TypeAddPeer, protocol.AddPeer{
		ChannelID:   ev.Channel.ID,
		PeerID:      newcomer.ConnectionID,
		UserID:      newcomer.User.ID,
		CreateOffer: false,
	})
	res := o.Rooms.Broadcast(ev.Room, newcomer.ConnectionID, frame)

	offers := 0
	for _, m := range ev.Channel.Members {
		if m.ID == newcomer.User.ID {
			continue
		}
		other, ok := o.Presence.Get(m.ID)
		if !ok || other.ConnectionID == newcomer.ConnectionID || !other.InChannel(ev.Channel.ID) {
			continue
		}
		f := protocol.MustEncode(protocol.TypeAddPeer, protocol.AddPeer{
			ChannelID:   ev.Channel.ID,
			PeerID:      other.ConnectionID,
			UserID:      other.User.ID,
			CreateOffer: true,
		})
		if err := o.Rooms.SendTo(newcomer.ConnectionID, f); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("conn", string(newcomer.ConnectionID)).Msg("addPeer to newcomer failed")
			return
		}
		offers++
	}
	log.Info().
		Str("module", "app.orch").
		Str("channel", string(ev.Channel.ID)).
		Str("conn", string(newcomer.ConnectionID)).
		Int("notified", res.SendTo).
		Int("offers", offers).
		Msg("member joined mesh")
}

func (o *Orchestrator) OnMemberLeft(ev app.MemberLeftEvent) {
	frame := protocol.MustEncode(protocol.TypeRemovePeer, protocol.RemovePeer{PeerID: ev.Entry.ConnectionID})
	res := o.Rooms.Broadcast(ev.Room, ev.Entry.ConnectionID, frame)
	log.Info().
		Str("module", "app.orch").
		Str("channel", string(ev.ChannelID)).
		Str("conn", string(ev.Entry.ConnectionID)).
		Int("notified", res.SendTo).
		Msg("member left mesh")
}

// RelayICE forwards a candidate to req.PeerID, stamped with the sender.
func (o *Orchestrator) RelayICE(from core.ConnectionID, user domain.UserID, req protocol.ICEMessage) {
	o.relay(protocol.TypeICECandidate, req.PeerID, protocol.ICEMessage{
		PeerID:    from,
		UserID:    user,
		ChannelID: req.ChannelID,
		Candidate: req.Candidate,
	})
}

// RelaySDP forwards an offer or answer to req.PeerID, stamped with the sender.
func (o *Orchestrator) RelaySDP(from core.ConnectionID, user domain.UserID, req protocol.SDPMessage) {
	o.relay(protocol.TypeSessionDescription, req.PeerID, protocol.SDPMessage{
		PeerID:      from,
		UserID:      user,
		ChannelID:   req.ChannelID,
		Description: req.Description,
	})
}

func (o *Orchestrator) relay(t protocol.MessageType, to core.ConnectionID, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("type", string(t)).Msg("relay encode failed")
		return
	}
	if err := o.Rooms.SendTo(to, frame); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("type", string(t)).Str("peer", string(to)).Msg("relay dropped")
	}
}
