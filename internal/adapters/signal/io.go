package signal

import (
	"context"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

// readPump processes frames one at a time; its exit is the single teardown
// point of the session.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *Session, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump closing")
		ctl.Bridge.Disconnect(sess)
		c.Close()
		cancel()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(sess.ID)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(sess, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(sess *Session, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(sess.ID)).Msg("bad json")
		ctl.sendError(sess, "bad_payload")
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe:
		var p protocol.ChannelRef
		if ctl.decode(sess, env, &p) {
			ctl.Bridge.Subscribe(sess, p.ChannelID)
		}
	case protocol.TypeUnsubscribe:
		ctl.Bridge.Unsubscribe(sess)
	case protocol.TypeUpdate:
		var p domain.ChannelTransfer
		if ctl.decode(sess, env, &p) {
			ctl.Bridge.Update(sess, p)
		}
	case protocol.TypeJoinScope:
		var p protocol.ScopeRef
		if ctl.decode(sess, env, &p) {
			ctl.Bridge.JoinScope(sess, p.ChannelID, p.ScopeID)
		}
	case protocol.TypeLeaveScope:
		var p protocol.ScopeRef
		if ctl.decode(sess, env, &p) {
			ctl.Bridge.LeaveScope(sess, p.ChannelID, p.ScopeID)
		}
	case protocol.TypeRelayICE:
		ctl.handleRelayICE(sess, env)
	case protocol.TypeRelaySDP:
		ctl.handleRelaySDP(sess, env)
	case protocol.TypePing:
		ctl.handlePing(sess)
	case protocol.TypeWhoAmI:
		ctl.handleWhoAmI(sess)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) decode(sess *Session, env protocol.Envelope, v any) bool {
	if err := env.Payload(v); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(sess.ID)).Str("type", string(env.Type)).Msg("bad payload")
		ctl.sendError(sess, "bad_payload")
		return false
	}
	return true
}

func (ctl *SignalWSController) sendError(sess *Session, msg string) {
	ctl.Bridge.send(sess, protocol.TypeError, protocol.ErrorMessage{Message: msg})
}
