// Package directory is the channel directory: the list of channels that
// exist, who owns them, and what they are called. Every change is announced
// to listeners, which is how channels come alive in the channel store.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
)

const MaxNameLen = 64

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotOwner        = errors.New("not the channel owner")
	ErrNameTaken       = errors.New("channel name already taken")
	ErrInvalidName     = errors.New("invalid channel name")
)

type Listener interface {
	ChannelAnnounced(domain.ChannelInfo)
	ChannelWithdrawn(domain.ChannelID)
}

// ListenerFuncs adapts two functions to Listener.
type ListenerFuncs struct {
	Announced func(domain.ChannelInfo)
	Withdrawn func(domain.ChannelID)
}

func (l ListenerFuncs) ChannelAnnounced(info domain.ChannelInfo) {
	if l.Announced != nil {
		l.Announced(info)
	}
}

func (l ListenerFuncs) ChannelWithdrawn(id domain.ChannelID) {
	if l.Withdrawn != nil {
		l.Withdrawn(id)
	}
}

type Directory interface {
	List(ctx context.Context) ([]domain.ChannelInfo, error)
	Get(ctx context.Context, id domain.ChannelID) (domain.ChannelInfo, error)
	Create(ctx context.Context, name string, owner domain.UserID) (domain.ChannelInfo, error)
	Rename(ctx context.Context, id domain.ChannelID, name string, requester domain.UserID) (domain.ChannelInfo, error)
	Remove(ctx context.Context, id domain.ChannelID, requester domain.UserID) error
	// Watch registers l and replays every known channel to it.
	Watch(ctx context.Context, l Listener) error
}

// normalizeName trims name and rejects empty or oversized names.
func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

type announcer struct {
	lmu       sync.RWMutex
	listeners []Listener
}

func (a *announcer) add(l Listener) {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *announcer) announce(info domain.ChannelInfo) {
	a.lmu.RLock()
	ls := a.listeners
	a.lmu.RUnlock()
	for _, l := range ls {
		l.ChannelAnnounced(info)
	}
}

func (a *announcer) withdraw(id domain.ChannelID) {
	a.lmu.RLock()
	ls := a.listeners
	a.lmu.RUnlock()
	for _, l := range ls {
		l.ChannelWithdrawn(id)
	}
}
