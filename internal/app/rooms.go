package app

import (
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomID names a broadcast group of connections.
type RoomID string

const channelRoomPrefix = "channel_"

func ChannelRoom(id domain.ChannelID) RoomID { return RoomID(channelRoomPrefix + string(id)) }

// RoomHub tracks every live signaling connection and the single room each
// one is in. It never closes a connection on its own except when the
// backpressure policy says so.
type RoomHub struct {
	mu     sync.RWMutex
	conns  map[core.ConnectionID]core.SignalConnection
	joined map[core.ConnectionID]RoomID
	rooms  map[RoomID]map[core.ConnectionID]core.SignalConnection
	policy Policy
}

func NewRoomHub(policy Policy) *RoomHub {
	return &RoomHub{
		conns:  make(map[core.ConnectionID]core.SignalConnection),
		joined: make(map[core.ConnectionID]RoomID),
		rooms:  make(map[RoomID]map[core.ConnectionID]core.SignalConnection),
		policy: policy,
	}
}

func (h *RoomHub) Register(conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

// Unregister drops the connection and its room membership.
func (h *RoomHub) Unregister(id core.ConnectionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(id)
	delete(h.conns, id)
}

// Kick closes and unregisters a connection.
func (h *RoomHub) Kick(id core.ConnectionID) bool {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		h.leaveLocked(id)
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	conn.Close()
	log.Info().Str("module", "app.rooms").Str("conn", string(id)).Msg("connection kicked")
	return true
}

// Switch moves the connection out of whatever room it is in and into room,
// in one step. Returns the previous room, if any.
func (h *RoomHub) Switch(id core.ConnectionID, room RoomID) (RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[id]
	if !ok {
		log.Warn().Str("module", "app.rooms").Str("conn", string(id)).Str("room", string(room)).Msg("switch: unknown connection")
		return "", false
	}
	prev, had := h.leaveLocked(id)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[core.ConnectionID]core.SignalConnection)
		h.rooms[room] = members
	}
	members[id] = conn
	h.joined[id] = room
	log.Debug().Str("module", "app.rooms").Str("conn", string(id)).Str("room", string(room)).Msg("joined room")
	return prev, had
}

func (h *RoomHub) Leave(id core.ConnectionID) (RoomID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(id)
}

func (h *RoomHub) leaveLocked(id core.ConnectionID) (RoomID, bool) {
	room, ok := h.joined[id]
	if !ok {
		return "", false
	}
	delete(h.joined, id)
	if members, ok := h.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	return room, true
}

func (h *RoomHub) RoomOf(id core.ConnectionID) (RoomID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.joined[id]
	return room, ok
}

func (h *RoomHub) Members(room RoomID) []core.ConnectionID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.ConnectionID, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// Broadcast sends f to every connection in room except one. Membership is
// held stable for the whole fan-out.
func (h *RoomHub) Broadcast(room RoomID, except core.ConnectionID, f core.Frame) core.PublishResult {
	h.mu.RLock()
	res := core.PublishResult{}
	for id, conn := range h.rooms[room] {
		if id == except {
			continue
		}
		if err := conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	h.mu.RUnlock()
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).Str("except", string(except)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	h.applyPolicy(room, res.Dropped)
	return res
}

// SendTo delivers f to a single connection.
func (h *RoomHub) SendTo(id core.ConnectionID, f core.Frame) error {
	h.mu.RLock()
	conn, ok := h.conns[id]
	room := h.joined[id]
	h.mu.RUnlock()
	if !ok {
		return core.ErrUnknownTarget
	}
	if err := conn.TrySend(f); err != nil {
		h.applyPolicy(room, []core.ConnectionID{id})
		return err
	}
	return nil
}

// Dissolve empties room and returns the connections that were in it.
func (h *RoomHub) Dissolve(room RoomID) []core.ConnectionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	out := make([]core.ConnectionID, 0, len(members))
	for id := range members {
		delete(h.joined, id)
		out = append(out, id)
	}
	delete(h.rooms, room)
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Int("members", len(out)).Msg("room dissolved")
	return out
}

func (h *RoomHub) applyPolicy(room RoomID, dropped []core.ConnectionID) {
	if h.policy == nil {
		return
	}
	for _, id := range dropped {
		action := h.policy.OnBackPressure(room, id)
		log.Warn().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(id)).Str("action", action.String()).Msg("backpressure")
		switch action {
		case KickMember:
			h.Kick(id)
		case MarkSlow, DropFrame, NoAction:
		}
	}
}
