package core

import (
	"sync"
)

// EventKind is the closed set of events exchanged between the presence
// registry, the channel store and their subscribers.
type EventKind uint8

const (
	UserAdded EventKind = iota + 1
	UserUpdated
	UserRemoved
	ChannelCreated
	ChannelUpdated
	ChannelRemoved
	MemberJoined
	MemberLeft
)

var kindNames = map[EventKind]string{
	UserAdded:      "userAdded",
	UserUpdated:    "userUpdated",
	UserRemoved:    "userRemoved",
	ChannelCreated: "channelCreated",
	ChannelUpdated: "channelUpdated",
	ChannelRemoved: "channelRemoved",
	MemberJoined:   "memberJoined",
	MemberLeft:     "memberLeft",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

type Event interface {
	Kind() EventKind
}

type handlerEntry struct {
	id int
	fn func(Event)
}

// Bus is a synchronous publish/subscribe hub. Publish invokes handlers on the
// caller's goroutine in subscription order; handlers may subscribe or
// unsubscribe while being invoked.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventKind][]handlerEntry
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventKind][]handlerEntry)}
}

// On registers fn for kind and returns a function removing it.
func (b *Bus) On(kind EventKind, fn func(Event)) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], handlerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[kind]
			for i, h := range hs {
				if h.id == id {
					b.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Kind()]
	b.mu.RUnlock()
	for _, h := range hs {
		h.fn(ev)
	}
}

// Subscribe is the typed form of On: the kind is taken from E itself.
func Subscribe[E Event](b *Bus, fn func(E)) (off func()) {
	var zero E
	return b.On(zero.Kind(), func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}
