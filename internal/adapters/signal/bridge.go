package signal

import (
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Bridge connects signaling sessions to the presence registry, the channel
// store and the room hub. Messages of one session are handled sequentially;
// different sessions may call in concurrently.
type Bridge struct {
	// mu orders joins and leaves so every memberJoined sees a consistent
	// channel. Never taken from bus handlers.
	mu sync.Mutex

	presence *app.PresenceRegistry
	store    *app.ChannelStore
	rooms    *app.RoomHub
	bus      *core.Bus
	limiter  *RoomRateLimiter

	unsubscribe []func()
}

func NewBridge(
	presence *app.PresenceRegistry,
	store *app.ChannelStore,
	rooms *app.RoomHub,
	bus *core.Bus,
	limiter *RoomRateLimiter,
) *Bridge {
	b := &Bridge{
		presence: presence,
		store:    store,
		rooms:    rooms,
		bus:      bus,
		limiter:  limiter,
	}
	// Store handlers run inside the store's critical section; they only
	// touch the room hub and presence, never the store.
	b.unsubscribe = append(b.unsubscribe,
		core.Subscribe(bus, func(e app.ChannelCreatedEvent) { b.broadcastChannel(e.Channel.ID, e.Channel) }),
		core.Subscribe(bus, func(e app.ChannelUpdatedEvent) { b.broadcastChannel(e.Channel.ID, e.Channel) }),
		core.Subscribe(bus, b.onChannelRemoved),
	)
	return b
}

func (b *Bridge) Stop() {
	for _, off := range b.unsubscribe {
		off()
	}
	b.unsubscribe = nil
}

// Admit registers a fresh session. A previous connection of the same user is
// torn down first: it leaves its channel, its peers get removePeer and its
// socket is closed.
func (b *Bridge) Admit(sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.presence.Get(sess.User.ID); ok && prev.ConnectionID != sess.ID {
		log.Info().
			Str("module", "signal.bridge").
			Str("user", sess.User.ID.String()).
			Str("old_conn", string(prev.ConnectionID)).
			Str("conn", string(sess.ID)).
			Msg("replacing connection")
		if prev.CurrentChannel != "" {
			b.leave(prev)
		}
		b.rooms.Kick(prev.ConnectionID)
	}
	b.rooms.Register(sess.conn)
	b.presence.AddUser(sess.ID, sess.User)
}

// Disconnect runs the full teardown of sess exactly once.
func (b *Bridge) Disconnect(sess *Session) {
	sess.teardown.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if e, ok := b.owned(sess); ok && e.CurrentChannel != "" {
			b.leave(e)
		}
		if _, ok := b.presence.RemoveConnection(sess.User.ID, sess.ID); ok && b.limiter != nil {
			b.limiter.Forget(sess.User.ID)
		}
		b.rooms.Unregister(sess.ID)
		log.Info().Str("module", "signal.bridge").Str("conn", string(sess.ID)).Str("user", sess.User.ID.String()).Msg("session closed")
	})
}

// owned returns the presence entry of the session's user if it still
// belongs to this session.
func (b *Bridge) owned(sess *Session) (app.PresenceEntry, bool) {
	e, ok := b.presence.Get(sess.User.ID)
	if !ok || e.ConnectionID != sess.ID {
		return app.PresenceEntry{}, false
	}
	return e, true
}

// leave takes the entry's connection out of its current channel.
func (b *Bridge) leave(e app.PresenceEntry) {
	channelID := e.CurrentChannel
	room := app.ChannelRoom(channelID)
	b.rooms.Leave(e.ConnectionID)
	b.store.RemoveMember(channelID, e.User.ID)
	b.presence.ClearChannel(e.User.ID)
	log.Info().Str("module", "signal.bridge").Str("conn", string(e.ConnectionID)).Str("channel", string(channelID)).Msg("left channel")
	b.bus.Publish(app.MemberLeftEvent{ChannelID: channelID, Entry: e, Room: room})
}

func (b *Bridge) send(sess *Session, t protocol.MessageType, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.bridge").Msg("encode")
		return
	}
	if err := b.rooms.SendTo(sess.ID, frame); err != nil {
		log.Warn().Err(err).Str("module", "signal.bridge").Str("conn", string(sess.ID)).Str("type", string(t)).Msg("send failed")
	}
}
