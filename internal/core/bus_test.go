package core

import "testing"

type pingEvent struct{ n int }

func (pingEvent) Kind() EventKind { return UserAdded }

type pongEvent struct{}

func (pongEvent) Kind() EventKind { return UserRemoved }

func TestBusDeliversByKindInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	Subscribe(b, func(e pingEvent) { got = append(got, "first") })
	Subscribe(b, func(e pingEvent) { got = append(got, "second") })
	Subscribe(b, func(pongEvent) { got = append(got, "pong") })

	b.Publish(pingEvent{n: 1})

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected delivery: %v", got)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0
	off := Subscribe(b, func(pingEvent) { calls++ })
	b.Publish(pingEvent{})
	off()
	off()
	b.Publish(pingEvent{})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestBusHandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus()
	calls := 0
	var off func()
	off = Subscribe(b, func(pingEvent) {
		calls++
		off()
	})
	other := 0
	Subscribe(b, func(pingEvent) { other++ })

	b.Publish(pingEvent{})
	b.Publish(pingEvent{})

	if calls != 1 || other != 2 {
		t.Fatalf("calls=%d other=%d", calls, other)
	}
}

func TestEventKindString(t *testing.T) {
	if MemberJoined.String() != "memberJoined" {
		t.Fatalf("got %q", MemberJoined.String())
	}
	if EventKind(200).String() != "unknown" {
		t.Fatal("expected unknown")
	}
}
