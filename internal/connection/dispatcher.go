package connection

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/protocol/frame"
)

// Handler receives one decoded inbound frame. Handlers run on the inbound
// read loop and must not block; in particular they must not issue
// Request calls on the same connection.
type Handler func(endpoint protocol.Endpoint, payload []byte)

// dispatcher routes inbound frames to one-shot waiters and durable
// subscribers. Mutation of the handler table is serialized with dispatch.
type dispatcher struct {
	mu      sync.Mutex
	waiters map[protocol.Endpoint]chan []byte
	subs    map[protocol.Endpoint][]*subscription
	log     zerolog.Logger
}

type subscription struct {
	handler Handler
}

func newDispatcher(log zerolog.Logger) *dispatcher {
	return &dispatcher{
		waiters: make(map[protocol.Endpoint]chan []byte),
		subs:    make(map[protocol.Endpoint][]*subscription),
		log:     log,
	}
}

// addWaiter registers a one-shot waiter for endpoint. The protocol has no
// transaction ids, so correlation is one outstanding waiter per endpoint;
// a second concurrent waiter is refused.
func (d *dispatcher) addWaiter(endpoint protocol.Endpoint) (chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.waiters[endpoint]; exists {
		return nil, protocol.ErrBusy
	}
	ch := make(chan []byte, 1)
	d.waiters[endpoint] = ch
	return ch, nil
}

func (d *dispatcher) removeWaiter(endpoint protocol.Endpoint, ch chan []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.waiters[endpoint]; ok && current == ch {
		delete(d.waiters, endpoint)
	}
}

// subscribe registers a durable handler for endpoint and returns its
// cancel function. Safe to call concurrently with dispatch.
func (d *dispatcher) subscribe(endpoint protocol.Endpoint, h Handler) func() {
	sub := &subscription{handler: h}
	d.mu.Lock()
	d.subs[endpoint] = append(d.subs[endpoint], sub)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[endpoint]
		for i, s := range subs {
			if s == sub {
				d.subs[endpoint] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// dispatch delivers one frame: first to the one-shot waiter, if any
// (consumed), then to durable subscribers in subscription order. Frames
// for endpoints nobody consumes are dropped; unknown endpoint ids must
// never kill the session, newer firmware sends messages we do not speak.
func (d *dispatcher) dispatch(f frame.Frame) {
	d.mu.Lock()
	waiter, hasWaiter := d.waiters[f.Endpoint]
	if hasWaiter {
		delete(d.waiters, f.Endpoint)
	}
	subs := make([]*subscription, len(d.subs[f.Endpoint]))
	copy(subs, d.subs[f.Endpoint])
	d.mu.Unlock()

	if hasWaiter {
		waiter <- f.Payload
	}
	for _, sub := range subs {
		sub.handler(f.Endpoint, f.Payload)
	}
	if !hasWaiter && len(subs) == 0 {
		if protocol.Known(f.Endpoint) {
			d.log.Debug().
				Stringer("endpoint", f.Endpoint).
				Int("bytes", len(f.Payload)).
				Msg("dropping frame with no consumer")
		} else {
			d.log.Debug().
				Uint16("endpoint_id", uint16(f.Endpoint)).
				Int("bytes", len(f.Payload)).
				Msg("dropping frame for unknown endpoint")
		}
	}
}
