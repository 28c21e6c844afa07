// Package bus is the in-process publish/subscribe fabric between the message
// processor and long-lived subscriber streams. Publishers never block: each
// subscriber owns a bounded buffer with drop-oldest overflow.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscription is one attached subscriber stream. The connection handshake is
// delivered ahead of the buffer, so overflow can never evict it: the first
// token a consumer reads is always the connection announcement.
type Subscription struct {
	id      string
	filter  Filter
	buf     chan Token
	out     chan Token
	quit    chan struct{}
	dropped atomic.Uint64
}

// ID returns the generated connection id announced in the handshake token.
func (s *Subscription) ID() string { return s.id }

// Tokens returns the stream. The channel closes when the subscriber is
// detached or the bus shuts down.
func (s *Subscription) Tokens() <-chan Token { return s.out }

// Dropped returns how many events overflow has discarded on this stream.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// enqueue adds a token to the buffer, discarding the oldest buffered token on
// overflow. Only event tokens count as drops; evicted heartbeats are stale by
// definition and not a loss.
func (s *Subscription) enqueue(tok Token) {
	for {
		select {
		case s.buf <- tok:
			return
		default:
		}
		select {
		case old := <-s.buf:
			if old.Type == TokenEvent {
				s.dropped.Add(1)
			}
		default:
		}
	}
}

// pump forwards the handshake and then the buffer to the consumer until the
// subscription is detached.
func (s *Subscription) pump(handshake Token) {
	if !s.deliver(handshake) {
		return
	}
	for {
		select {
		case tok := <-s.buf:
			if !s.deliver(tok) {
				return
			}
		case <-s.quit:
			close(s.out)
			return
		}
	}
}

func (s *Subscription) deliver(tok Token) bool {
	select {
	case s.out <- tok:
		return true
	case <-s.quit:
		close(s.out)
		return false
	}
}

// Bus fans events out to matching subscriptions and keeps their streams warm
// with heartbeats.
type Bus struct {
	capacity  int
	heartbeat time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	done   chan struct{}
}

// New creates a bus and starts its heartbeat loop. capacity bounds each
// subscriber buffer; heartbeat <= 0 disables the loop (tests).
func New(capacity int, heartbeat time.Duration, logger zerolog.Logger) *Bus {
	b := &Bus{
		capacity:  capacity,
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "event-bus").Logger(),
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
	if heartbeat > 0 {
		go b.heartbeatLoop()
	}
	return b
}

// Subscribe attaches a stream whose first token is the connection handshake.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		buf:    make(chan Token, b.capacity),
		out:    make(chan Token),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.out)
		return sub
	}
	b.subs[sub.id] = sub
	go sub.pump(Token{Type: TokenConnection, Data: ConnectionData{
		Status:       "connected",
		ConnectionID: sub.id,
	}})
	b.logger.Debug().Str("connection_id", sub.id).Msg("subscriber attached")
	return sub
}

// Unsubscribe detaches the stream and closes it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.quit)
	b.logger.Debug().Str("connection_id", sub.id).Msg("subscriber detached")
}

// Publish fans the event out to every matching subscription. It never blocks
// on a slow subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.filter.Matches(event) {
			sub.enqueue(Token{Type: TokenEvent, Data: event})
		}
	}
}

// SubscriberCount returns the number of attached streams.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down; every stream observes end-of-stream.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.quit)
	}
}

func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for _, sub := range b.subs {
				sub.enqueue(Token{Type: TokenHeartbeat, Data: HeartbeatData{Timestamp: now.UTC()}})
			}
			b.mu.Unlock()
		}
	}
}
