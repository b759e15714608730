package signal

import (
	"sync"

	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
)

// Session is one authenticated signaling connection. Its current channel
// lives in the presence registry, not here.
type Session struct {
	ID   core.ConnectionID
	User domain.User

	conn     core.SignalConnection
	teardown sync.Once
}

func NewSession(user domain.User, conn core.SignalConnection) *Session {
	return &Session{ID: conn.ID(), User: user, conn: conn}
}
