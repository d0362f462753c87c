package realtime

import (
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		return ev, ok
	case <-time.After(time.Second):
		return Event{}, false
	}
}

func noEvent(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestDispatch_FiltersByTableAndColumn(t *testing.T) {
	h := NewHub(nil, nil)
	room7 := h.Subscribe(Filter{Table: "messages", Column: "receiver_id", Value: "7"})
	room8 := h.Subscribe(Filter{Table: "messages", Column: "receiver_id", Value: "8"})
	allNotif := h.Subscribe(Filter{Table: "notifications"})
	defer h.Close()

	h.dispatch(`{"table":"messages","row":{"id":1,"sender_id":3,"receiver_id":7,"message_text":"hello","client_ref":null}}`)
	h.dispatch(`{"table":"notifications","row":{"id":5,"recipient_id":3,"message":"Van is leaving"}}`)

	ev, ok := recv(t, room7)
	if !ok || ev.Table != "messages" {
		t.Fatalf("room 7: want messages event, got %+v ok=%v", ev, ok)
	}
	var m struct {
		ID          int64  `json:"id"`
		MessageText string `json:"message_text"`
	}
	if err := ev.Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.ID != 1 || m.MessageText != "hello" {
		t.Fatalf("decoded %+v", m)
	}
	noEvent(t, room7)
	noEvent(t, room8)

	if ev, ok := recv(t, allNotif); !ok || ev.Table != "notifications" {
		t.Fatalf("notifications: got %+v ok=%v", ev, ok)
	}
}

func TestDispatch_StringColumn(t *testing.T) {
	h := NewHub(nil, nil)
	s := h.Subscribe(Filter{Table: "messages", Column: "client_ref", Value: "abc"})
	defer s.Close()

	h.dispatch(`{"table":"messages","row":{"client_ref":"abc"}}`)
	h.dispatch(`{"table":"messages","row":{"client_ref":null}}`)

	if _, ok := recv(t, s); !ok {
		t.Fatal("want event for matching string column")
	}
	noEvent(t, s)
}

func TestDispatch_BadPayloadIgnored(t *testing.T) {
	h := NewHub(nil, nil)
	s := h.Subscribe(Filter{Table: "messages"})
	defer s.Close()

	h.dispatch(`not json`)
	h.dispatch(`{"table":"messages","row":[1,2]}`)
	noEvent(t, s)
}

func TestDispatch_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil, nil)
	s := h.Subscribe(Filter{Table: "messages"})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*2; i++ {
			h.dispatch(`{"table":"messages","row":{"id":1}}`)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a full subscriber")
	}
	if got := len(s.Events()); got != subBuffer {
		t.Fatalf("buffered %d events, want %d", got, subBuffer)
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	h := NewHub(nil, nil)
	s := h.Subscribe(Filter{Table: "messages"})
	if h.Len() != 1 {
		t.Fatalf("want 1 subscription, got %d", h.Len())
	}
	s.Close()
	s.Close()
	if h.Len() != 0 {
		t.Fatalf("want 0 subscriptions, got %d", h.Len())
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("events channel must be closed")
	}
	// после Close диспетчер не пишет в закрытый канал
	h.dispatch(`{"table":"messages","row":{"id":1}}`)
}

func TestSubscription_SignalCoalesces(t *testing.T) {
	h := NewHub(nil, nil)
	s := h.Subscribe(Filter{Table: "notifications"})
	sig := s.Signal()

	for i := 0; i < 5; i++ {
		h.dispatch(`{"table":"notifications","row":{"id":1}}`)
	}
	select {
	case <-sig:
	case <-time.After(time.Second):
		t.Fatal("want a signal after inserts")
	}

	s.Close()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sig:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("signal channel must close with the subscription")
		}
	}
}

func TestRawValue(t *testing.T) {
	cases := map[string]string{
		`42`:     "42",
		` 42 `:   "42",
		`"abc"`:  "abc",
		`null`:   "null",
		`"a\"b"`: `a"b`,
	}
	for in, want := range cases {
		if got := rawValue([]byte(in)); got != want {
			t.Fatalf("rawValue(%s) = %q, want %q", in, got, want)
		}
	}
}
