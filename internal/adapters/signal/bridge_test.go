package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Alexander0x1307376/ultra-chateg/internal/app"
	"github.com/Alexander0x1307376/ultra-chateg/internal/app/orch"
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/protocol"
)

type fakeConn struct {
	id     core.ConnectionID
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) ID() core.ConnectionID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) of(t *testing.T, typ protocol.MessageType) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, f := range c.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type harness struct {
	bus      *core.Bus
	presence *app.PresenceRegistry
	store    *app.ChannelStore
	rooms    *app.RoomHub
	bridge   *Bridge
	ctl      *SignalWSController
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := core.NewBus()
	presence := app.NewPresenceRegistry(bus)
	store := app.NewChannelStore(bus, presence)
	rooms := app.NewRoomHub(app.SimplePolicy{})
	bridge := NewBridge(presence, store, rooms, bus, NewRoomRateLimiter(100, time.Second))
	o := orch.New(presence, rooms, bus)
	store.CreateChannel(domain.ChannelInfo{ID: "c1", Name: "general", OwnerID: 1})
	store.CreateChannel(domain.ChannelInfo{ID: "c2", Name: "random", OwnerID: 1})
	return &harness{
		bus:      bus,
		presence: presence,
		store:    store,
		rooms:    rooms,
		bridge:   bridge,
		ctl:      NewSignalWSController(bridge, o, DefaultOptions()),
	}
}

func (h *harness) connect(id domain.UserID, name string, conn core.ConnectionID) (*Session, *fakeConn) {
	fc := &fakeConn{id: conn}
	sess := NewSession(domain.User{ID: id, Name: name}, fc)
	h.bridge.Admit(sess)
	return sess, fc
}

func (h *harness) dispatch(t *testing.T, sess *Session, typ protocol.MessageType, payload any) {
	t.Helper()
	raw, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	h.ctl.handleSignal(sess, raw)
}

func TestSubscribeTwiceJoinsOnce(t *testing.T) {
	h := newHarness(t)
	joined := 0
	core.Subscribe(h.bus, func(app.MemberJoinedEvent) { joined++ })
	a, ac := h.connect(1, "ann", "a")

	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	if joined != 1 {
		t.Fatalf("expected one memberJoined, got %d", joined)
	}
	sets := ac.of(t, protocol.TypeSet)
	if len(sets) != 2 {
		t.Fatalf("expected two snapshots, got %d", len(sets))
	}
	var snap domain.ChannelTransfer
	if err := sets[1].Payload(&snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Members) != 1 || snap.Members[0].ID != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestJoinBuildsMesh(t *testing.T) {
	h := newHarness(t)
	a, ac := h.connect(1, "a", "ca")
	b, bc := h.connect(2, "b", "cb")
	u, uc := h.connect(3, "u", "cu")
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, b, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	ac.reset()
	bc.reset()

	h.dispatch(t, u, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	offers := uc.of(t, protocol.TypeAddPeer)
	if len(offers) != 2 {
		t.Fatalf("newcomer expected 2 addPeer, got %d", len(offers))
	}
	peers := map[core.ConnectionID]bool{}
	for _, env := range offers {
		var ap protocol.AddPeer
		_ = env.Payload(&ap)
		if !ap.CreateOffer {
			t.Fatal("newcomer must create offers")
		}
		peers[ap.PeerID] = true
	}
	if !peers["ca"] || !peers["cb"] {
		t.Fatalf("unexpected peers %v", peers)
	}
	for name, fc := range map[string]*fakeConn{"a": ac, "b": bc} {
		got := fc.of(t, protocol.TypeAddPeer)
		if len(got) != 1 {
			t.Fatalf("%s expected one addPeer, got %d", name, len(got))
		}
		var ap protocol.AddPeer
		_ = got[0].Payload(&ap)
		if ap.CreateOffer || ap.PeerID != "cu" {
			t.Fatalf("%s got %+v", name, ap)
		}
		if n := len(fc.of(t, protocol.TypeUpdate)); n == 0 {
			t.Fatalf("%s expected a channel update", name)
		}
	}
}

func TestDisconnectSendsOneRemovePeer(t *testing.T) {
	h := newHarness(t)
	a, ac := h.connect(1, "a", "ca")
	u, uc := h.connect(2, "u", "cu")
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, u, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	ac.reset()
	uc.reset()

	h.bridge.Disconnect(u)
	h.bridge.Disconnect(u)

	removes := ac.of(t, protocol.TypeRemovePeer)
	if len(removes) != 1 {
		t.Fatalf("expected one removePeer, got %d", len(removes))
	}
	var rp protocol.RemovePeer
	_ = removes[0].Payload(&rp)
	if rp.PeerID != "cu" {
		t.Fatalf("unexpected peer %q", rp.PeerID)
	}
	if len(uc.of(t, protocol.TypeRemovePeer)) != 0 {
		t.Fatal("leaver got its own removePeer")
	}
	if _, ok := h.presence.Get(2); ok {
		t.Fatal("presence not cleared")
	}
	ch, _ := h.store.Get("c1")
	if ch.HasMember(2) {
		t.Fatal("store still lists leaver")
	}
}

func TestUnsubscribeThenSubscribeAgain(t *testing.T) {
	h := newHarness(t)
	joined := 0
	core.Subscribe(h.bus, func(app.MemberJoinedEvent) { joined++ })
	a, _ := h.connect(1, "a", "ca")

	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, a, protocol.TypeUnsubscribe, nil)
	h.dispatch(t, a, protocol.TypeUnsubscribe, nil)
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	if joined != 2 {
		t.Fatalf("expected two joins, got %d", joined)
	}
}

func TestSubscribeUnknownChannelRepliesRemove(t *testing.T) {
	h := newHarness(t)
	a, ac := h.connect(1, "a", "ca")

	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "gone"})

	removes := ac.of(t, protocol.TypeRemove)
	if len(removes) != 1 {
		t.Fatalf("expected remove notice, got %d", len(removes))
	}
	if e, _ := h.presence.Get(1); e.CurrentChannel != "" {
		t.Fatal("presence changed")
	}
}

func TestSwitchChannelLeavesPrevious(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect(1, "a", "ca")
	b, bc := h.connect(2, "b", "cb")
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, b, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	bc.reset()

	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c2"})

	if n := len(bc.of(t, protocol.TypeRemovePeer)); n != 1 {
		t.Fatalf("expected removePeer in old channel, got %d", n)
	}
	c1, _ := h.store.Get("c1")
	c2, _ := h.store.Get("c2")
	if c1.HasMember(1) || !c2.HasMember(1) {
		t.Fatalf("membership not moved: c1=%+v c2=%+v", c1.Members, c2.Members)
	}
	if room, _ := h.rooms.RoomOf("ca"); room != app.ChannelRoom("c2") {
		t.Fatalf("connection in %q", room)
	}
}

func TestUpdateRequiresOwner(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.connect(1, "owner", "co")
	guest, _ := h.connect(2, "guest", "cg")
	h.dispatch(t, guest, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	h.dispatch(t, guest, protocol.TypeUpdate, domain.ChannelTransfer{ID: "c1", Name: "pwned", OwnerID: 2})
	if ch, _ := h.store.Get("c1"); ch.Name != "general" {
		t.Fatalf("non-owner update applied: %q", ch.Name)
	}

	h.dispatch(t, owner, protocol.TypeUpdate, domain.ChannelTransfer{
		ID: "c1", Name: "renamed", OwnerID: 1,
		Members: []domain.User{{ID: 2, Name: "guest"}},
		Scopes:  []domain.ScopeTransfer{{ID: "s1", Name: "stage", Members: []domain.UserID{}}},
	})
	ch, _ := h.store.Get("c1")
	if ch.Name != "renamed" {
		t.Fatalf("owner update not applied: %q", ch.Name)
	}
	if _, ok := ch.Scope("s1"); !ok {
		t.Fatal("scope missing after update")
	}
}

func TestScopeOperationsRequireChannelPresence(t *testing.T) {
	h := newHarness(t)
	h.store.AddScope("c1", "s1", "stage")
	in, _ := h.connect(1, "in", "ci")
	out, _ := h.connect(2, "out", "cx")
	h.dispatch(t, in, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	h.dispatch(t, out, protocol.TypeJoinScope, protocol.ScopeRef{ChannelID: "c1", ScopeID: "s1"})
	h.dispatch(t, in, protocol.TypeJoinScope, protocol.ScopeRef{ChannelID: "c1", ScopeID: "s1"})
	h.dispatch(t, in, protocol.TypeJoinScope, protocol.ScopeRef{ChannelID: "c1", ScopeID: "missing"})

	ch, _ := h.store.Get("c1")
	sc, _ := ch.Scope("s1")
	if len(sc.Members) != 1 || sc.Members[0] != 1 {
		t.Fatalf("unexpected scope members %v", sc.Members)
	}

	h.dispatch(t, in, protocol.TypeLeaveScope, protocol.ScopeRef{ChannelID: "c1", ScopeID: "s1"})
	ch, _ = h.store.Get("c1")
	sc, _ = ch.Scope("s1")
	if len(sc.Members) != 0 {
		t.Fatalf("leaveScope ignored: %v", sc.Members)
	}
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	h := newHarness(t)
	old, oldConn := h.connect(1, "a", "old")
	b, bc := h.connect(2, "b", "cb")
	h.dispatch(t, old, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	h.dispatch(t, b, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	bc.reset()

	_, _ = h.connect(1, "a", "new")

	removes := bc.of(t, protocol.TypeRemovePeer)
	if len(removes) != 1 {
		t.Fatalf("expected removePeer for old conn, got %d", len(removes))
	}
	if !oldConn.closed {
		t.Fatal("old socket not closed")
	}

	h.bridge.Disconnect(old)
	e, ok := h.presence.Get(1)
	if !ok || e.ConnectionID != "new" {
		t.Fatalf("late close removed new entry: %+v ok=%v", e, ok)
	}
	if n := len(bc.of(t, protocol.TypeRemovePeer)); n != 1 {
		t.Fatalf("late close sent another removePeer (%d)", n)
	}
}

func TestChannelRemovalNotifiesRoom(t *testing.T) {
	h := newHarness(t)
	a, ac := h.connect(1, "a", "ca")
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	ac.reset()

	h.store.RemoveChannel("c1")

	removes := ac.of(t, protocol.TypeRemove)
	if len(removes) != 1 {
		t.Fatalf("expected remove notice, got %d", len(removes))
	}
	if e, _ := h.presence.Get(1); e.CurrentChannel != "" {
		t.Fatal("presence still points at removed channel")
	}
	if _, ok := h.rooms.RoomOf("ca"); ok {
		t.Fatal("room not dissolved")
	}
}

func TestRelayIsPassThrough(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect(1, "a", "ca")
	b, bc := h.connect(2, "b", "cb")
	c, cc := h.connect(3, "c", "cc")
	for _, s := range []*Session{a, b, c} {
		h.dispatch(t, s, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})
	}
	bc.reset()
	cc.reset()

	desc := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	h.dispatch(t, a, protocol.TypeRelaySDP, protocol.SDPMessage{PeerID: "cb", ChannelID: "c1", Description: desc})

	if len(cc.frames) != 0 {
		t.Fatal("relay leaked to c")
	}
	got := bc.of(t, protocol.TypeSessionDescription)
	if len(got) != 1 {
		t.Fatalf("target got %d descriptions", len(got))
	}
	var msg protocol.SDPMessage
	_ = got[0].Payload(&msg)
	if msg.PeerID != "ca" || msg.UserID != 1 || !bytes.Equal(msg.Description, desc) {
		t.Fatalf("unexpected relay %+v", msg)
	}
}

func TestControlMessages(t *testing.T) {
	h := newHarness(t)
	a, ac := h.connect(1, "a", "ca")
	h.dispatch(t, a, protocol.TypeSubscribe, protocol.ChannelRef{ChannelID: "c1"})

	h.dispatch(t, a, protocol.TypePing, nil)
	h.dispatch(t, a, protocol.TypeWhoAmI, nil)
	h.ctl.handleSignal(a, []byte(`{oops`))

	if len(ac.of(t, protocol.TypePong)) != 1 {
		t.Fatal("no pong")
	}
	who := ac.of(t, protocol.TypeWhoAmI)
	if len(who) != 1 {
		t.Fatal("no whoami")
	}
	var w protocol.WhoAmI
	_ = who[0].Payload(&w)
	if w.ConnectionID != "ca" || w.ChannelID != "c1" || w.User.ID != 1 {
		t.Fatalf("unexpected whoami %+v", w)
	}
	if len(ac.of(t, protocol.TypeError)) != 1 {
		t.Fatal("malformed frame not reported")
	}
}

func TestConcurrentJoinsHaveOneOffererPerPair(t *testing.T) {
	for round := range 20 {
		h := newHarness(t)
		const n = 4
		sessions := make([]*Session, n)
		conns := make([]*fakeConn, n)
		for i := range n {
			id := core.ConnectionID(fmt.Sprintf("conn-%d", i))
			sessions[i], conns[i] = h.connect(domain.UserID(i+1), fmt.Sprintf("u%d", i), id)
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				h.bridge.Subscribe(sessions[i], "c1")
			}()
		}
		close(start)
		wg.Wait()

		// offers[i][j]: how often i was told to offer to j; notices counts every addPeer
		offers := map[core.ConnectionID]map[core.ConnectionID]int{}
		notices := map[core.ConnectionID]map[core.ConnectionID]int{}
		for i, c := range conns {
			self := sessions[i].ID
			offers[self] = map[core.ConnectionID]int{}
			notices[self] = map[core.ConnectionID]int{}
			for _, env := range c.of(t, protocol.TypeAddPeer) {
				var p protocol.AddPeer
				if err := env.Payload(&p); err != nil {
					t.Fatal(err)
				}
				notices[self][p.PeerID]++
				if p.CreateOffer {
					offers[self][p.PeerID]++
				}
			}
		}

		for i := range n {
			for j := i + 1; j < n; j++ {
				a, b := sessions[i].ID, sessions[j].ID
				if got := offers[a][b] + offers[b][a]; got != 1 {
					t.Fatalf("round %d: pair %s/%s has %d offerers", round, a, b, got)
				}
				if notices[a][b] != 1 || notices[b][a] != 1 {
					t.Fatalf("round %d: pair %s/%s got %d and %d addPeer", round, a, b, notices[a][b], notices[b][a])
				}
			}
		}
	}
}
