package app

import "github.com/Alexander0x1307376/ultra-chateg/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

type Policy interface {
	OnBackPressure(room RoomID, conn core.ConnectionID) BackpressureAction
}

// SimplePolicy disconnects any connection that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(RoomID, core.ConnectionID) BackpressureAction {
	return KickMember
}

// DropPolicy only drops the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(RoomID, core.ConnectionID) BackpressureAction {
	return DropFrame
}
