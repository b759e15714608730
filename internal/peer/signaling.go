package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const clientWriteWait = 10 * time.Second

var ErrClientClosed = errors.New("signaling client closed")

// Handler receives every decoded frame from the server.
type Handler interface {
	HandleEnvelope(protocol.Envelope)
}

// SignalingClient is the client end of the signaling socket. Writes are
// serialized; reads happen only in Run.
type SignalingClient struct {
	ws *websocket.Conn

	wmu    sync.Mutex
	closed bool
}

// Dial connects to the signaling endpoint, passing token as a bearer header.
func Dial(ctx context.Context, url, token string) (*SignalingClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &SignalingClient{ws: ws}, nil
}

func (c *SignalingClient) Send(t protocol.MessageType, payload any) error {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

func (c *SignalingClient) Subscribe(id domain.ChannelID) error {
	return c.Send(protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: id})
}

func (c *SignalingClient) Unsubscribe(id domain.ChannelID) error {
	return c.Send(protocol.TypeUnsubscribe, protocol.ChannelRef{ChannelID: id})
}

func (c *SignalingClient) JoinScope(ch domain.ChannelID, scope domain.ScopeID) error {
	return c.Send(protocol.TypeJoinScope, protocol.ScopeRef{ChannelID: ch, ScopeID: scope})
}

func (c *SignalingClient) LeaveScope(ch domain.ChannelID, scope domain.ScopeID) error {
	return c.Send(protocol.TypeLeaveScope, protocol.ScopeRef{ChannelID: ch, ScopeID: scope})
}

func (c *SignalingClient) Update(t domain.ChannelTransfer) error {
	return c.Send(protocol.TypeUpdate, t)
}

func (c *SignalingClient) Ping() error   { return c.Send(protocol.TypePing, nil) }
func (c *SignalingClient) WhoAmI() error { return c.Send(protocol.TypeWhoAmI, nil) }

func (c *SignalingClient) RelayICE(peerID core.ConnectionID, channelID domain.ChannelID, candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	return c.Send(protocol.TypeRelayICE, protocol.ICEMessage{PeerID: peerID, ChannelID: channelID, Candidate: raw})
}

func (c *SignalingClient) RelaySDP(peerID core.ConnectionID, channelID domain.ChannelID, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal description: %w", err)
	}
	return c.Send(protocol.TypeRelaySDP, protocol.SDPMessage{PeerID: peerID, ChannelID: channelID, Description: raw})
}

// Run reads frames until the socket fails or ctx is done.
func (c *SignalingClient) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Str("module", "peer.signaling").Err(err).Msg("undecodable frame")
			continue
		}
		h.HandleEnvelope(env)
	}
}

func (c *SignalingClient) Close() error {
	c.wmu.Lock()
	if c.closed {
		c.wmu.Unlock()
		return nil
	}
	c.closed = true
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.ws.Close()
}
