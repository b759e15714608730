package signal

import (
	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Subscribe moves the session into channelID. A session already in another
// channel leaves it first. Re-subscribing to the current channel only
// refreshes the snapshot.
func (b *Bridge) Subscribe(sess *Session, channelID domain.ChannelID) {
	logger := log.With().Str("module", "signal.bridge").Str("conn", string(sess.ID)).Str("channel", string(channelID)).Logger()
	if channelID == "" {
		logger.Warn().Msg("subscribe: empty channel id")
		return
	}
	if b.limiter != nil && !b.limiter.Allow(sess.User.ID) {
		logger.Warn().Msg("subscribe: rate limited")
		return
	}
	if _, ok := b.store.Get(channelID); !ok {
		logger.Warn().Msg("subscribe: channel not found")
		b.send(sess, protocol.TypeRemove, protocol.ChannelRef{ChannelID: channelID})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.owned(sess)
	if !ok {
		logger.Warn().Msg("subscribe: session no longer owns presence")
		return
	}

	prev := entry.CurrentChannel
	if prev != "" && prev != channelID {
		b.leave(entry)
	}

	b.store.AddMember(channelID, sess.User)
	entry, _ = b.presence.SetChannel(sess.User.ID, channelID)
	room := app.ChannelRoom(channelID)
	b.rooms.Switch(sess.ID, room)

	snapshot, ok := b.store.Get(channelID)
	if !ok {
		logger.Warn().Msg("subscribe: channel removed concurrently")
		b.send(sess, protocol.TypeRemove, protocol.ChannelRef{ChannelID: channelID})
		return
	}
	b.send(sess, protocol.TypeSet, snapshot)

	if prev == channelID {
		logger.Debug().Msg("subscribe: already in channel")
		return
	}
	logger.Info().Msg("joined channel")
	b.bus.Publish(app.MemberJoinedEvent{Channel: snapshot, Entry: entry, Room: room})
}

func (b *Bridge) Unsubscribe(sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.owned(sess)
	if !ok || entry.CurrentChannel == "" {
		log.Warn().Str("module", "signal.bridge").Str("conn", string(sess.ID)).Msg("unsubscribe: not in a channel")
		return
	}
	b.leave(entry)
}

// Update replaces the channel state. Only the owner may do it.
func (b *Bridge) Update(sess *Session, t domain.ChannelTransfer) {
	current, ok := b.store.Get(t.ID)
	if !ok {
		log.Warn().Str("module", "signal.bridge").Str("channel", string(t.ID)).Msg("update: channel not found")
		return
	}
	if current.OwnerID != sess.User.ID {
		log.Warn().Str("module", "signal.bridge").Str("channel", string(t.ID)).Str("user", sess.User.ID.String()).Msg("update: not owner")
		return
	}
	b.store.UpdateChannel(t)
}

func (b *Bridge) JoinScope(sess *Session, channelID domain.ChannelID, scopeID domain.ScopeID) {
	if !b.scopeAllowed(sess, "joinScope", channelID, scopeID) {
		return
	}
	b.store.AddMemberToScope(channelID, scopeID, sess.User.ID)
}

func (b *Bridge) LeaveScope(sess *Session, channelID domain.ChannelID, scopeID domain.ScopeID) {
	if !b.scopeAllowed(sess, "leaveScope", channelID, scopeID) {
		return
	}
	b.store.RemoveMemberFromScope(channelID, scopeID, sess.User.ID)
}

// scopeAllowed checks the channel and scope exist and the caller is in the
// channel right now.
func (b *Bridge) scopeAllowed(sess *Session, op string, channelID domain.ChannelID, scopeID domain.ScopeID) bool {
	logger := log.With().Str("module", "signal.bridge").Str("op", op).Str("conn", string(sess.ID)).Str("channel", string(channelID)).Str("scope", string(scopeID)).Logger()
	ch, ok := b.store.Get(channelID)
	if !ok {
		logger.Warn().Msg("channel not found")
		return false
	}
	if _, ok := ch.Scope(scopeID); !ok {
		logger.Warn().Msg("scope not found")
		return false
	}
	entry, ok := b.owned(sess)
	if !ok || !entry.InChannel(channelID) {
		logger.Warn().Msg("caller not in channel")
		return false
	}
	return true
}

func (b *Bridge) broadcastChannel(id domain.ChannelID, t domain.ChannelTransfer) {
	frame, err := protocol.Encode(protocol.TypeUpdate, t)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.bridge").Msg("encode channel update")
		return
	}
	b.rooms.Broadcast(app.ChannelRoom(id), "", frame)
}

// onChannelRemoved tells everyone in the room, dissolves it and forgets the
// channel in presence.
func (b *Bridge) onChannelRemoved(e app.ChannelRemovedEvent) {
	id := e.Channel.ID
	frame, err := protocol.Encode(protocol.TypeRemove, protocol.ChannelRef{ChannelID: id})
	if err != nil {
		log.Error().Err(err).Str("module", "signal.bridge").Msg("encode channel remove")
		return
	}
	room := app.ChannelRoom(id)
	b.rooms.Broadcast(room, "", frame)
	conns := b.rooms.Dissolve(room)
	for _, entry := range b.presence.InChannel(id) {
		b.presence.ClearChannel(entry.User.ID)
	}
	log.Info().Str("module", "signal.bridge").Str("channel", string(id)).Int("conns", len(conns)).Msg("channel removed")
}
