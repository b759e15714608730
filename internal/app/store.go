package app

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type scopeState struct {
	id      domain.ScopeID
	name    string
	members map[domain.UserID]struct{}
}

type channelState struct {
	id      domain.ChannelID
	name    string
	ownerID domain.UserID
	members map[domain.UserID]domain.User
	scopes  map[domain.ScopeID]*scopeState
}

func newChannelState(info domain.ChannelInfo) *channelState {
	return &channelState{
		id:      info.ID,
		name:    info.Name,
		ownerID: info.OwnerID,
		members: make(map[domain.UserID]domain.User),
		scopes:  make(map[domain.ScopeID]*scopeState),
	}
}

// project copies the state into a transfer with deterministic ordering.
func (c *channelState) project() domain.ChannelTransfer {
	t := domain.ChannelTransfer{
		ID:      c.id,
		Name:    c.name,
		OwnerID: c.ownerID,
		Members: make([]domain.User, 0, len(c.members)),
		Scopes:  make([]domain.ScopeTransfer, 0, len(c.scopes)),
	}
	for _, u := range c.members {
		t.Members = append(t.Members, u)
	}
	slices.SortFunc(t.Members, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	for _, s := range c.scopes {
		st := domain.ScopeTransfer{ID: s.id, Name: s.name, Members: make([]domain.UserID, 0, len(s.members))}
		for id := range s.members {
			st.Members = append(st.Members, id)
		}
		slices.Sort(st.Members)
		t.Scopes = append(t.Scopes, st)
	}
	slices.SortFunc(t.Scopes, func(a, b domain.ScopeTransfer) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return t
}

// ChannelStore is the authoritative in-memory state of every active channel.
//
// Every mutation runs in one critical section and publishes its event before
// the lock is released, so subscribers observe projections in mutation order.
// Event handlers must not call back into the store.
type ChannelStore struct {
	mu       sync.Mutex
	channels map[domain.ChannelID]*channelState
	presence *PresenceRegistry
	bus      *core.Bus
}

func NewChannelStore(bus *core.Bus, presence *PresenceRegistry) *ChannelStore {
	return &ChannelStore{
		channels: make(map[domain.ChannelID]*channelState),
		presence: presence,
		bus:      bus,
	}
}

// CreateChannel brings a directory channel into existence. Announcing an
// already active channel updates its name and owner instead.
func (s *ChannelStore) CreateChannel(info domain.ChannelInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[info.ID]; ok {
		ch.name = info.Name
		ch.ownerID = info.OwnerID
		log.Info().Str("module", "app.store").Str("channel", string(info.ID)).Str("name", info.Name).Msg("channel renamed")
		s.bus.Publish(ChannelUpdatedEvent{Channel: ch.project()})
		return
	}
	ch := newChannelState(info)
	s.channels[info.ID] = ch
	log.Info().Str("module", "app.store").Str("channel", string(info.ID)).Str("name", info.Name).Msg("channel created")
	s.bus.Publish(ChannelCreatedEvent{Channel: ch.project()})
}

func (s *ChannelStore) RemoveChannel(id domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		log.Warn().Str("module", "app.store").Str("channel", string(id)).Msg("remove: channel not found")
		return
	}
	delete(s.channels, id)
	log.Info().Str("module", "app.store").Str("channel", string(id)).Msg("channel removed")
	s.bus.Publish(ChannelRemovedEvent{Channel: ch.project()})
}

// mutate runs fn against an active channel and publishes channelUpdated.
// fn returning false aborts without an event.
func (s *ChannelStore) mutate(op string, id domain.ChannelID, fn func(*channelState) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		log.Warn().Str("module", "app.store").Str("op", op).Str("channel", string(id)).Msg("channel not found")
		return
	}
	if !fn(ch) {
		return
	}
	s.bus.Publish(ChannelUpdatedEvent{Channel: ch.project()})
}

func (s *ChannelStore) AddMember(id domain.ChannelID, user domain.User) {
	s.mutate("addMember", id, func(ch *channelState) bool {
		ch.members[user.ID] = user
		log.Info().Str("module", "app.store").Str("channel", string(id)).Str("user", user.ID.String()).Msg("member added")
		return true
	})
}

// RemoveMember also drops the user from every scope of the channel.
func (s *ChannelStore) RemoveMember(id domain.ChannelID, userID domain.UserID) {
	s.mutate("removeMember", id, func(ch *channelState) bool {
		delete(ch.members, userID)
		for _, sc := range ch.scopes {
			delete(sc.members, userID)
		}
		log.Info().Str("module", "app.store").Str("channel", string(id)).Str("user", userID.String()).Msg("member removed")
		return true
	})
}

// AddScope creates a scope; an empty scopeID gets a generated one.
// Returns the id used.
func (s *ChannelStore) AddScope(id domain.ChannelID, scopeID domain.ScopeID, name string) domain.ScopeID {
	if scopeID == "" {
		scopeID = domain.ScopeID(uuid.NewString())
	}
	s.mutate("addScope", id, func(ch *channelState) bool {
		if sc, ok := ch.scopes[scopeID]; ok {
			sc.name = name
			return true
		}
		ch.scopes[scopeID] = &scopeState{id: scopeID, name: name, members: make(map[domain.UserID]struct{})}
		log.Info().Str("module", "app.store").Str("channel", string(id)).Str("scope", string(scopeID)).Msg("scope added")
		return true
	})
	return scopeID
}

func (s *ChannelStore) RemoveScope(id domain.ChannelID, scopeID domain.ScopeID) {
	s.mutate("removeScope", id, func(ch *channelState) bool {
		if _, ok := ch.scopes[scopeID]; !ok {
			log.Warn().Str("module", "app.store").Str("channel", string(id)).Str("scope", string(scopeID)).Msg("remove: scope not found")
			return false
		}
		delete(ch.scopes, scopeID)
		log.Info().Str("module", "app.store").Str("channel", string(id)).Str("scope", string(scopeID)).Msg("scope removed")
		return true
	})
}

// AddMemberToScope does not require the user to be a channel member; callers
// that care check presence first.
func (s *ChannelStore) AddMemberToScope(id domain.ChannelID, scopeID domain.ScopeID, userID domain.UserID) {
	s.mutate("addMemberToScope", id, func(ch *channelState) bool {
		sc, ok := ch.scopes[scopeID]
		if !ok {
			log.Warn().Str("module", "app.store").Str("channel", string(id)).Str("scope", string(scopeID)).Msg("join: scope not found")
			return false
		}
		sc.members[userID] = struct{}{}
		return true
	})
}

func (s *ChannelStore) RemoveMemberFromScope(id domain.ChannelID, scopeID domain.ScopeID, userID domain.UserID) {
	s.mutate("removeMemberFromScope", id, func(ch *channelState) bool {
		sc, ok := ch.scopes[scopeID]
		if !ok {
			log.Warn().Str("module", "app.store").Str("channel", string(id)).Str("scope", string(scopeID)).Msg("leave: scope not found")
			return false
		}
		delete(sc.members, userID)
		return true
	})
}

// UpdateChannel replaces name, owner, members and scopes from t. Members
// that are online take their user record from presence.
func (s *ChannelStore) UpdateChannel(t domain.ChannelTransfer) {
	s.mutate("updateChannel", t.ID, func(ch *channelState) bool {
		ch.name = t.Name
		ch.ownerID = t.OwnerID
		ch.members = make(map[domain.UserID]domain.User, len(t.Members))
		for _, u := range t.Members {
			if s.presence != nil {
				if e, ok := s.presence.Get(u.ID); ok {
					u = e.User
				}
			}
			ch.members[u.ID] = u
		}
		ch.scopes = make(map[domain.ScopeID]*scopeState, len(t.Scopes))
		for _, st := range t.Scopes {
			sc := &scopeState{id: st.ID, name: st.Name, members: make(map[domain.UserID]struct{}, len(st.Members))}
			for _, m := range st.Members {
				sc.members[m] = struct{}{}
			}
			ch.scopes[st.ID] = sc
		}
		log.Info().Str("module", "app.store").Str("channel", string(t.ID)).Int("members", len(ch.members)).Int("scopes", len(ch.scopes)).Msg("channel replaced")
		return true
	})
}

func (s *ChannelStore) Get(id domain.ChannelID) (domain.ChannelTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return domain.ChannelTransfer{}, false
	}
	return ch.project(), true
}

func (s *ChannelStore) List() []domain.ChannelTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChannelTransfer, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.project())
	}
	slices.SortFunc(out, func(a, b domain.ChannelTransfer) int { return strings.Compare(a.Name, b.Name) })
	return out
}
