// Package protocol defines the JSON frames exchanged over the signaling socket.
package protocol

import (
	"encoding/json"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	// client -> server
	TypeSubscribe   MessageType = "channelDetails:subscribe"
	TypeUnsubscribe MessageType = "channelDetails:unsubscribe"
	TypeJoinScope   MessageType = "channelDetails:joinScope"
	TypeLeaveScope  MessageType = "channelDetails:leaveScope"
	TypeRelayICE    MessageType = "relayICE"
	TypeRelaySDP    MessageType = "relaySDP"

	// both directions
	TypeUpdate MessageType = "channelDetails:update"

	// server -> client
	TypeSet                MessageType = "channelDetails:set"
	TypeRemove             MessageType = "channelDetails:remove"
	TypeAddPeer            MessageType = "addPeer"
	TypeRemovePeer         MessageType = "removePeer"
	TypeICECandidate       MessageType = "ICECandidate"
	TypeSessionDescription MessageType = "sessionDescription"

	// control
	TypePing   MessageType = "ping"
	TypePong   MessageType = "pong"
	TypeWhoAmI MessageType = "whoami"
	TypeError  MessageType = "error"
)

// Envelope is the outer shape of every frame: {"type": ..., "data": ...}.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ChannelRef struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type ScopeRef struct {
	ChannelID domain.ChannelID `json:"channelId"`
	ScopeID   domain.ScopeID   `json:"scopeId"`
}

type AddPeer struct {
	ChannelID   domain.ChannelID  `json:"channelId"`
	PeerID      core.ConnectionID `json:"peerId"`
	UserID      domain.UserID     `json:"userId"`
	CreateOffer bool              `json:"createOffer"`
}

type RemovePeer struct {
	PeerID core.ConnectionID `json:"peerId"`
}

// ICEMessage is sent as relayICE by a client, with PeerID naming the target,
// and delivered as ICECandidate with PeerID/UserID naming the sender.
// Candidate is opaque to the server.
type ICEMessage struct {
	PeerID    core.ConnectionID `json:"peerId"`
	UserID    domain.UserID     `json:"userId,omitempty"`
	ChannelID domain.ChannelID  `json:"channelId"`
	Candidate json.RawMessage   `json:"candidate"`
}

// SDPMessage mirrors ICEMessage for relaySDP / sessionDescription.
type SDPMessage struct {
	PeerID      core.ConnectionID `json:"peerId"`
	UserID      domain.UserID     `json:"userId,omitempty"`
	ChannelID   domain.ChannelID  `json:"channelId"`
	Description json.RawMessage   `json:"description"`
}

type WhoAmI struct {
	User         domain.User       `json:"user"`
	ConnectionID core.ConnectionID `json:"connectionId"`
	ChannelID    domain.ChannelID  `json:"channelId,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
