package bus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBus(capacity int) *Bus {
	return New(capacity, 0, zerolog.Nop())
}

func drainHandshake(t *testing.T, sub *Subscription) {
	t.Helper()
	tok := <-sub.Tokens()
	if tok.Type != TokenConnection {
		t.Fatalf("first token = %s, want connection", tok.Type)
	}
	data, ok := tok.Data.(ConnectionData)
	if !ok {
		t.Fatalf("connection data = %T", tok.Data)
	}
	if data.Status != "connected" || data.ConnectionID != sub.ID() {
		t.Fatalf("handshake = %+v", data)
	}
}

func TestSubscribeHandshakeFirst(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()

	sub := b.Subscribe(Filter{})
	b.Publish(NewEvent(EventGmailProcessed, PriorityMedium, EventData{Title: "t"}))

	drainHandshake(t, sub)
	tok := <-sub.Tokens()
	if tok.Type != TokenEvent {
		t.Fatalf("second token = %s, want event", tok.Type)
	}
}

func TestFilterSoundness(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()

	sub := b.Subscribe(Filter{ClientID: "X", Types: []EventType{EventTradeMatched}})
	drainHandshake(t, sub)

	processed := NewEvent(EventGmailProcessed, PriorityMedium, EventData{})
	processed.ClientID = "X"
	matchedX := NewEvent(EventTradeMatched, PriorityHigh, EventData{Title: "want"})
	matchedX.ClientID = "X"
	matchedY := NewEvent(EventTradeMatched, PriorityHigh, EventData{})
	matchedY.ClientID = "Y"

	b.Publish(processed)
	b.Publish(matchedX)
	b.Publish(matchedY)

	tok := <-sub.Tokens()
	got, ok := tok.Data.(Event)
	if !ok {
		t.Fatalf("token data = %T", tok.Data)
	}
	if got.Data.Title != "want" {
		t.Errorf("delivered event = %+v", got)
	}
	select {
	case extra := <-sub.Tokens():
		t.Errorf("unexpected extra token: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFilterClauses(t *testing.T) {
	event := NewEvent(EventMatchCreated, PriorityHigh, EventData{})
	event.ClientID = "X"
	event.UserID = "u1"

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"client match", Filter{ClientID: "X"}, true},
		{"client mismatch", Filter{ClientID: "Y"}, false},
		{"user match", Filter{UserID: "u1"}, true},
		{"user mismatch", Filter{UserID: "u2"}, false},
		{"type match", Filter{Types: []EventType{EventMatchCreated, EventSystemAlert}}, true},
		{"type mismatch", Filter{Types: []EventType{EventSystemAlert}}, false},
		{"priority match", Filter{Priorities: []Priority{PriorityHigh}}, true},
		{"priority mismatch", Filter{Priorities: []Priority{PriorityLow}}, false},
		{"all clauses", Filter{ClientID: "X", UserID: "u1", Types: []EventType{EventMatchCreated}, Priorities: []Priority{PriorityHigh}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(event); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDropOldestOnOverflow(t *testing.T) {
	capacity := 3
	b := newTestBus(capacity)
	defer b.Close()

	// Overflow by two before the consumer reads anything.
	sub := b.Subscribe(Filter{})
	for i := 0; i < capacity+2; i++ {
		e := NewEvent(EventGmailProcessed, PriorityMedium, EventData{Title: string(rune('a' + i))})
		b.Publish(e)
	}

	if sub.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", sub.Dropped())
	}

	// The handshake is exempt from eviction and still arrives first; the two
	// oldest events were discarded and the newest three remain in order.
	drainHandshake(t, sub)
	want := []string{"c", "d", "e"}
	for _, title := range want {
		tok := <-sub.Tokens()
		if tok.Type != TokenEvent {
			t.Fatalf("token type = %s", tok.Type)
		}
		if got := tok.Data.(Event).Data.Title; got != title {
			t.Errorf("title = %q, want %q", got, title)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := newTestBus(1)
	defer b.Close()
	b.Subscribe(Filter{}) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(NewEvent(EventSystemAlert, PriorityHigh, EventData{}))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	b := newTestBus(100)
	defer b.Close()
	sub := b.Subscribe(Filter{})
	drainHandshake(t, sub)

	var ids []string
	for i := 0; i < 20; i++ {
		e := NewEvent(EventGmailProcessed, PriorityMedium, EventData{})
		ids = append(ids, e.ID)
		b.Publish(e)
	}
	for i := 0; i < 20; i++ {
		tok := <-sub.Tokens()
		if got := tok.Data.(Event).ID; got != ids[i] {
			t.Fatalf("event %d out of order: got %s, want %s", i, got, ids[i])
		}
	}
}

func TestUnsubscribeClosesStream(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()
	sub := b.Subscribe(Filter{})
	drainHandshake(t, sub)

	b.Unsubscribe(sub)
	if _, open := <-sub.Tokens(); open {
		t.Error("stream still open after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d", b.SubscriberCount())
	}
	// Idempotent.
	b.Unsubscribe(sub)
}

func TestCloseTerminatesAllStreams(t *testing.T) {
	b := newTestBus(10)
	s1 := b.Subscribe(Filter{})
	s2 := b.Subscribe(Filter{})
	drainHandshake(t, s1)
	drainHandshake(t, s2)

	b.Close()
	for _, sub := range []*Subscription{s1, s2} {
		if _, open := <-sub.Tokens(); open {
			t.Error("stream still open after Close")
		}
	}

	// Publishing and subscribing after close are no-ops.
	b.Publish(NewEvent(EventSystemAlert, PriorityHigh, EventData{}))
	late := b.Subscribe(Filter{})
	if _, open := <-late.Tokens(); open {
		t.Error("late subscription stream should be closed")
	}
}

func TestHeartbeatSynthesized(t *testing.T) {
	b := New(10, 20*time.Millisecond, zerolog.Nop())
	defer b.Close()
	sub := b.Subscribe(Filter{})
	drainHandshake(t, sub)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case tok := <-sub.Tokens():
			if tok.Type == TokenHeartbeat {
				if _, ok := tok.Data.(HeartbeatData); !ok {
					t.Fatalf("heartbeat data = %T", tok.Data)
				}
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat within deadline")
		}
	}
}
