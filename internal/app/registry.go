package app

import (
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceEntry is the registry's view of an online user.
type PresenceEntry struct {
	User           domain.User       `json:"user"`
	ConnectionID   core.ConnectionID `json:"connectionId"`
	CurrentChannel domain.ChannelID  `json:"currentChannel,omitempty"`
}

func (e PresenceEntry) InChannel(id domain.ChannelID) bool {
	return e.CurrentChannel != "" && e.CurrentChannel == id
}

// PresenceRegistry holds at most one entry per user id. Its operations never
// fail: missing targets are logged and ignored.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[domain.UserID]*PresenceEntry
	bus     *core.Bus
}

func NewPresenceRegistry(bus *core.Bus) *PresenceRegistry {
	return &PresenceRegistry{
		entries: make(map[domain.UserID]*PresenceEntry),
		bus:     bus,
	}
}

// AddUser registers user on conn. An existing entry for the same user is
// replaced; the old connection is the caller's to tear down.
func (r *PresenceRegistry) AddUser(conn core.ConnectionID, user domain.User) PresenceEntry {
	r.mu.Lock()
	prev, replaced := r.entries[user.ID]
	e := &PresenceEntry{User: user, ConnectionID: conn}
	r.entries[user.ID] = e
	out := *e
	r.mu.Unlock()

	ev := log.Info().Str("module", "app.presence").Str("user", user.ID.String()).Str("conn", string(conn))
	if replaced {
		ev = ev.Str("replaced_conn", string(prev.ConnectionID))
	}
	ev.Msg("user online")
	r.bus.Publish(UserAddedEvent{Entry: out})
	return out
}

func (r *PresenceRegistry) RemoveUser(id domain.UserID) (PresenceEntry, bool) {
	return r.remove(id, func(*PresenceEntry) bool { return true })
}

// RemoveConnection removes the user only while the entry still belongs to
// conn, so a late close of a replaced socket keeps the newer entry.
func (r *PresenceRegistry) RemoveConnection(id domain.UserID, conn core.ConnectionID) (PresenceEntry, bool) {
	return r.remove(id, func(e *PresenceEntry) bool { return e.ConnectionID == conn })
}

func (r *PresenceRegistry) remove(id domain.UserID, match func(*PresenceEntry) bool) (PresenceEntry, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !match(e) {
		r.mu.Unlock()
		log.Debug().Str("module", "app.presence").Str("user", id.String()).Msg("remove: no matching entry")
		return PresenceEntry{}, false
	}
	delete(r.entries, id)
	out := *e
	r.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", id.String()).Str("conn", string(out.ConnectionID)).Msg("user offline")
	r.bus.Publish(UserRemovedEvent{Entry: out})
	return out, true
}

func (r *PresenceRegistry) SetChannel(id domain.UserID, channel domain.ChannelID) (PresenceEntry, bool) {
	return r.update(id, func(e *PresenceEntry) { e.CurrentChannel = channel })
}

func (r *PresenceRegistry) ClearChannel(id domain.UserID) (PresenceEntry, bool) {
	return r.update(id, func(e *PresenceEntry) { e.CurrentChannel = "" })
}

func (r *PresenceRegistry) update(id domain.UserID, apply func(*PresenceEntry)) (PresenceEntry, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		log.Warn().Str("module", "app.presence").Str("user", id.String()).Msg("update: user not online")
		return PresenceEntry{}, false
	}
	apply(e)
	out := *e
	r.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", id.String()).Str("channel", string(out.CurrentChannel)).Msg("updated channel")
	r.bus.Publish(UserUpdatedEvent{Entry: out})
	return out, true
}

// Get returns a copy of the entry.
func (r *PresenceRegistry) Get(id domain.UserID) (PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return PresenceEntry{}, false
	}
	return *e, true
}

// InChannel lists entries whose current channel is id.
func (r *PresenceRegistry) InChannel(id domain.ChannelID) []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PresenceEntry, 0)
	for _, e := range r.entries {
		if e.InChannel(id) {
			out = append(out, *e)
		}
	}
	return out
}

func (r *PresenceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
