package signal

import (
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
)

func (ctl *SignalWSController) handleRelayICE(sess *Session, env protocol.Envelope) {
	var p protocol.ICEMessage
	if !ctl.decode(sess, env, &p) {
		return
	}
	ctl.Orch.RelayICE(sess.ID, sess.User.ID, p)
}

func (ctl *SignalWSController) handleRelaySDP(sess *Session, env protocol.Envelope) {
	var p protocol.SDPMessage
	if !ctl.decode(sess, env, &p) {
		return
	}
	ctl.Orch.RelaySDP(sess.ID, sess.User.ID, p)
}
