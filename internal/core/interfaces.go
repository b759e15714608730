package core

import "errors"

var (
	ErrBackpressure     = errors.New("backpressure: send queue is full")
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnknownTarget    = errors.New("unknown target connection")
)

// Frame is a raw signaling payload, already encoded for the wire.
type Frame []byte

// ConnectionID identifies one live signaling socket. It is fresh per socket,
// so a reconnecting user gets a new one.
type ConnectionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnectionID
	// TrySend never blocks; a full queue yields ErrBackpressure.
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []ConnectionID
}
