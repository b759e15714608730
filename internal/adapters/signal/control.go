package signal

import (
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
)

func (ctl *SignalWSController) handlePing(sess *Session) {
	ctl.Bridge.send(sess, protocol.TypePong, nil)
}

func (ctl *SignalWSController) handleWhoAmI(sess *Session) {
	resp := protocol.WhoAmI{User: sess.User, ConnectionID: sess.ID}
	if e, ok := ctl.Bridge.owned(sess); ok {
		resp.User = e.User
		resp.ChannelID = e.CurrentChannel
	}
	ctl.Bridge.send(sess, protocol.TypeWhoAmI, resp)
}
