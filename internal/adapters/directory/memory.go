package directory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Memory struct {
	announcer
	mu       sync.RWMutex
	channels map[domain.ChannelID]domain.ChannelInfo
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[domain.ChannelID]domain.ChannelInfo)}
}

func (m *Memory) List(context.Context) ([]domain.ChannelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(), nil
}

func (m *Memory) sortedLocked() []domain.ChannelInfo {
	out := make([]domain.ChannelInfo, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.ChannelInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (m *Memory) Get(_ context.Context, id domain.ChannelID) (domain.ChannelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return domain.ChannelInfo{}, ErrChannelNotFound
	}
	return c, nil
}

func (m *Memory) takenLocked(name string, except domain.ChannelID) bool {
	for id, c := range m.channels {
		if id != except && c.Name == name {
			return true
		}
	}
	return false
}

func (m *Memory) Create(_ context.Context, name string, owner domain.UserID) (domain.ChannelInfo, error) {
	name, err := normalizeName(name)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	m.mu.Lock()
	if m.takenLocked(name, "") {
		m.mu.Unlock()
		return domain.ChannelInfo{}, ErrNameTaken
	}
	info := domain.ChannelInfo{ID: domain.ChannelID(uuid.NewString()), Name: name, OwnerID: owner}
	m.channels[info.ID] = info
	m.mu.Unlock()

	log.Info().Str("module", "directory.memory").Str("channel", string(info.ID)).Str("name", name).Msg("channel created")
	m.announce(info)
	return info, nil
}

func (m *Memory) Rename(_ context.Context, id domain.ChannelID, name string, requester domain.UserID) (domain.ChannelInfo, error) {
	name, err := normalizeName(name)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	m.mu.Lock()
	info, ok := m.channels[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return domain.ChannelInfo{}, ErrChannelNotFound
	case info.OwnerID != requester:
		m.mu.Unlock()
		return domain.ChannelInfo{}, ErrNotOwner
	case m.takenLocked(name, id):
		m.mu.Unlock()
		return domain.ChannelInfo{}, ErrNameTaken
	}
	info.Name = name
	m.channels[id] = info
	m.mu.Unlock()

	m.announce(info)
	return info, nil
}

func (m *Memory) Remove(_ context.Context, id domain.ChannelID, requester domain.UserID) error {
	m.mu.Lock()
	info, ok := m.channels[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return ErrChannelNotFound
	case info.OwnerID != requester:
		m.mu.Unlock()
		return ErrNotOwner
	}
	delete(m.channels, id)
	m.mu.Unlock()

	log.Info().Str("module", "directory.memory").Str("channel", string(id)).Msg("channel removed")
	m.withdraw(id)
	return nil
}

func (m *Memory) Watch(_ context.Context, l Listener) error {
	m.add(l)
	m.mu.RLock()
	existing := m.sortedLocked()
	m.mu.RUnlock()
	for _, info := range existing {
		l.ChannelAnnounced(info)
	}
	return nil
}
