// Package connection owns one live session with the watch: the inbound
// read loop, frame dispatch, and the blocking request/response call
// convention everything above it is built on.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/protocol/frame"
	"github.com/danmuck/pebblectl/internal/transport"
)

// State is the connection lifecycle. There is no transition back to
// StateOpen; reconnection means constructing a new Conn.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config defines per-connection timing defaults.
type Config struct {
	// DefaultRequestTimeout applies when a Request caller passes no
	// explicit timeout.
	DefaultRequestTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.DefaultRequestTimeout <= 0 {
		c.DefaultRequestTimeout = 10 * time.Second
	}
	return c
}

// Conn is one open session over a Transport. All methods are safe for
// concurrent use; writes are serialized so frames never interleave.
type Conn struct {
	tr  transport.Transport
	cfg Config
	log zerolog.Logger

	dispatch *dispatcher

	wmu sync.Mutex // serializes frame writes

	mu     sync.Mutex
	state  State
	reason error

	closed chan struct{}
}

// New wraps an established transport and starts the inbound read loop.
func New(tr transport.Transport, cfg Config, log zerolog.Logger) *Conn {
	c := &Conn{
		tr:       tr,
		cfg:      cfg.WithDefaults(),
		log:      log,
		dispatch: newDispatcher(log),
		state:    StateOpen, // transport is already established when handed over
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// State reports the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection has transitioned to StateClosed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err reports why the connection closed, nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Send writes one fire-and-forget frame.
func (c *Conn) Send(endpoint protocol.Endpoint, payload []byte) error {
	select {
	case <-c.closed:
		return c.Err()
	default:
	}

	c.wmu.Lock()
	err := frame.Write(c.tr, frame.Frame{Endpoint: endpoint, Payload: payload})
	c.wmu.Unlock()
	if err != nil {
		werr := fmt.Errorf("%w: %s: %v", protocol.ErrTransport, endpoint, err)
		c.fail(werr)
		return werr
	}
	c.log.Trace().Stringer("endpoint", endpoint).Int("bytes", len(payload)).Msg("sent frame")
	return nil
}

// Request sends a frame on endpoint and blocks until a frame arrives on
// reply, the timeout elapses, ctx is canceled, or the connection dies.
// A timeout of zero uses the configured default. Only one request per
// reply endpoint may be outstanding at a time.
func (c *Conn) Request(ctx context.Context, endpoint protocol.Endpoint, payload []byte, reply protocol.Endpoint, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultRequestTimeout
	}

	ch, err := c.dispatch.addWaiter(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: reply endpoint %s", err, reply)
	}
	defer c.dispatch.removeWaiter(reply, ch)

	if err := c.Send(endpoint, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: no %s frame within %s", protocol.ErrTimeout, reply, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, c.Err()
	}
}

// Subscribe registers a durable handler for endpoint; the returned
// function cancels it.
func (c *Conn) Subscribe(endpoint protocol.Endpoint, h Handler) func() {
	return c.dispatch.subscribe(endpoint, h)
}

// Close tears the connection down and wakes every pending waiter.
func (c *Conn) Close() error {
	c.fail(protocol.ErrConnectionLost)
	return nil
}

func (c *Conn) readLoop() {
	for {
		f, err := frame.Read(c.tr)
		if err != nil {
			c.fail(classifyReadError(err))
			return
		}
		c.log.Trace().Stringer("endpoint", f.Endpoint).Int("bytes", len(f.Payload)).Msg("received frame")
		c.dispatch.dispatch(f)
	}
}

// classifyReadError maps read loop failures onto the protocol taxonomy.
// Framing errors mean the stream desynchronized; everything else is the
// transport going away. Both are fatal to this connection.
func classifyReadError(err error) error {
	switch {
	case errors.Is(err, frame.ErrShortHeader),
		errors.Is(err, frame.ErrTruncated),
		errors.Is(err, frame.ErrPayloadTooLarge):
		return fmt.Errorf("%w: %v", protocol.ErrFraming, err)
	case errors.Is(err, io.EOF):
		return protocol.ErrConnectionLost
	default:
		return fmt.Errorf("%w: %v", protocol.ErrConnectionLost, err)
	}
}

// fail transitions to StateClosed exactly once, recording the first
// reason, closing the transport, and waking all pending waiters.
func (c *Conn) fail(reason error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.reason = reason
	c.mu.Unlock()

	close(c.closed)
	_ = c.tr.Close()
	if !errors.Is(reason, protocol.ErrConnectionLost) {
		c.log.Warn().Err(reason).Msg("connection closed")
	} else {
		c.log.Debug().Err(reason).Msg("connection closed")
	}
}
