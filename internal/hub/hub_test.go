package hub

import "testing"

func TestBroadcastFiltersBySubscription(t *testing.T) {
	h := New()
	all := &Client{ID: "all", Send: make(chan []byte, 1)}
	scoped := &Client{ID: "scoped", Send: make(chan []byte, 1)}
	other := &Client{ID: "other", Send: make(chan []byte, 1)}
	h.Register(all)
	h.Register(scoped)
	h.Register(other)
	h.UpdateSubscription(scoped, Subscription{CounterID: "c1"})
	h.UpdateSubscription(other, Subscription{CounterID: "c2"})

	h.Broadcast([]byte("event"), Subscription{CounterID: "c1"})

	if len(all.Send) != 1 {
		t.Fatal("expected unscoped client to receive event")
	}
	if len(scoped.Send) != 1 {
		t.Fatal("expected matching client to receive event")
	}
	if len(other.Send) != 0 {
		t.Fatal("expected non-matching client to be skipped")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	h := New()
	client := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(client)

	h.Broadcast([]byte("one"), Subscription{})
	h.Broadcast([]byte("two"), Subscription{})

	if len(client.Send) != 1 {
		t.Fatalf("expected single buffered message, got %d", len(client.Send))
	}
	if got := <-client.Send; string(got) != "one" {
		t.Fatalf("expected first message kept, got %s", got)
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","counter_id":"c1"}`))
	if !ok || msg.CounterID != "c1" {
		t.Fatalf("unexpected parse result %+v %v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"noop"}`)); ok {
		t.Fatal("expected unknown action rejected")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("expected invalid json rejected")
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)

	if _, open := <-client.Send; open {
		t.Fatal("expected send channel closed")
	}
	h.Broadcast([]byte("event"), Subscription{})
}
