package app

import (
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
)

// Presence events carry a copy of the entry as it was after the change
// (or right before removal).
type (
	UserAddedEvent   struct{ Entry PresenceEntry }
	UserUpdatedEvent struct{ Entry PresenceEntry }
	UserRemovedEvent struct{ Entry PresenceEntry }
)

func (UserAddedEvent) Kind() core.EventKind   { return core.UserAdded }
func (UserUpdatedEvent) Kind() core.EventKind { return core.UserUpdated }
func (UserRemovedEvent) Kind() core.EventKind { return core.UserRemoved }

// Store events always carry a projection, never live state.
type (
	ChannelCreatedEvent struct{ Channel domain.ChannelTransfer }
	ChannelUpdatedEvent struct{ Channel domain.ChannelTransfer }
	ChannelRemovedEvent struct{ Channel domain.ChannelTransfer }
)

func (ChannelCreatedEvent) Kind() core.EventKind { return core.ChannelCreated }
func (ChannelUpdatedEvent) Kind() core.EventKind { return core.ChannelUpdated }
func (ChannelRemovedEvent) Kind() core.EventKind { return core.ChannelRemoved }

// MemberJoinedEvent is raised by the subscription bridge once a connection
// has been added to the channel and its room.
type MemberJoinedEvent struct {
	Channel domain.ChannelTransfer
	Entry   PresenceEntry
	Room    RoomID
}

type MemberLeftEvent struct {
	ChannelID domain.ChannelID
	Entry     PresenceEntry
	Room      RoomID
}

func (MemberJoinedEvent) Kind() core.EventKind { return core.MemberJoined }
func (MemberLeftEvent) Kind() core.EventKind   { return core.MemberLeft }
