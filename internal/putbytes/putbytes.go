// Package putbytes implements the chunked, acknowledged bulk transfer
// sub-protocol used to deliver firmware, app binaries, and resource packs
// to the watch on endpoint 0xBEEF.
package putbytes

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/crc"
	"github.com/danmuck/pebblectl/internal/protocol"
)

// ObjectType classifies the bulk object being transferred.
type ObjectType uint8

const (
	ObjectFirmware     ObjectType = 1
	ObjectRecovery     ObjectType = 2
	ObjectSysResources ObjectType = 3
	ObjectResources    ObjectType = 4
	ObjectBinary       ObjectType = 5
	ObjectWorker       ObjectType = 6
)

func (o ObjectType) String() string {
	switch o {
	case ObjectFirmware:
		return "firmware"
	case ObjectRecovery:
		return "recovery"
	case ObjectSysResources:
		return "system-resources"
	case ObjectResources:
		return "app-resources"
	case ObjectBinary:
		return "app-binary"
	case ObjectWorker:
		return "app-worker"
	default:
		return "unknown"
	}
}

// Sub-message command bytes.
const (
	cmdInit    uint8 = 0x01
	cmdPut     uint8 = 0x02
	cmdCommit  uint8 = 0x03
	cmdAbort   uint8 = 0x04
	cmdInstall uint8 = 0x05
)

const statusAck uint8 = 0x01

const (
	// MaxChunkSize bounds one put message's data, keeping per-message
	// latency tolerable on the serial link.
	MaxChunkSize = 2000

	// MaxChunkRetries bounds identical resends of a single chunk before
	// the session is aborted.
	MaxChunkRetries = 3
)

// sessionState tracks where one transfer is in its lifecycle.
type sessionState int

const (
	stateNotStarted sessionState = iota
	stateWaitForToken
	stateInProgress
	stateCommit
	stateComplete
	stateFailed
)

// Requester is the slice of a connection the engine drives.
type Requester interface {
	Request(ctx context.Context, endpoint protocol.Endpoint, payload []byte, reply protocol.Endpoint, timeout time.Duration) ([]byte, error)
	Send(endpoint protocol.Endpoint, payload []byte) error
}

// Config tunes one engine's chunking and patience.
type Config struct {
	ChunkSize   int
	MaxRetries  int
	InitTimeout time.Duration
	AckTimeout  time.Duration
}

func (c Config) WithDefaults() Config {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		c.ChunkSize = MaxChunkSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxChunkRetries
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	return c
}

// Engine uploads binary objects through a connection. The watch accepts
// one transfer session at a time, so concurrent Transfer calls beyond the
// first fail fast with ErrBusy.
type Engine struct {
	conn   Requester
	cfg    Config
	log    zerolog.Logger
	active atomic.Bool
}

func NewEngine(conn Requester, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		conn: conn,
		cfg:  cfg.WithDefaults(),
		log:  log,
	}
}

// session is the state of one in-flight transfer, owned exclusively by
// the Transfer invocation that created it.
type session struct {
	token      uint32
	objectType ObjectType
	total      uint32
	sent       uint32
	chunkIndex uint32
	retries    int
	state      sessionState
}

// Transfer uploads data of the given object type into the given storage
// bank, commits it with its checksum, and activates it. On unrecoverable
// failure after a session token exists, exactly one abort is sent so the
// watch can release its transfer state.
func (e *Engine) Transfer(ctx context.Context, objectType ObjectType, bank uint8, data []byte) error {
	if !e.active.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: a transfer session is already active", protocol.ErrBusy)
	}
	defer e.active.Store(false)

	s := &session{
		objectType: objectType,
		total:      uint32(len(data)),
		state:      stateNotStarted,
	}
	e.log.Info().
		Stringer("object_type", objectType).
		Uint8("bank", bank).
		Uint32("size", s.total).
		Msg("starting transfer")

	if err := e.initSession(ctx, s, bank); err != nil {
		s.state = stateFailed
		return err
	}
	if err := e.putLoop(ctx, s, data); err != nil {
		s.state = stateFailed
		return err
	}
	if err := e.commit(ctx, s, data); err != nil {
		s.state = stateFailed
		return err
	}
	if err := e.install(ctx, s); err != nil {
		s.state = stateFailed
		return err
	}
	s.state = stateComplete
	e.log.Info().Stringer("object_type", objectType).Uint32("size", s.total).Msg("transfer complete")
	return nil
}

// initSession announces the transfer and waits for the device-assigned
// session token. There is nothing to abort if this fails; no session
// exists yet.
func (e *Engine) initSession(ctx context.Context, s *session, bank uint8) error {
	payload := make([]byte, 7)
	payload[0] = cmdInit
	binary.BigEndian.PutUint32(payload[1:5], s.total)
	payload[5] = byte(s.objectType)
	payload[6] = bank
	s.state = stateWaitForToken

	resp, err := e.conn.Request(ctx, protocol.EndpointPutBytes, payload, protocol.EndpointPutBytes, e.cfg.InitTimeout)
	if err != nil {
		return fmt.Errorf("put_bytes init: %w", err)
	}
	if len(resp) < 5 || resp[0] != statusAck {
		return fmt.Errorf("put_bytes init refused: %w", protocol.ErrTransferFailed)
	}
	s.token = binary.BigEndian.Uint32(resp[1:5])
	s.state = stateInProgress
	e.log.Debug().Uint32("token", s.token).Msg("session established")
	return nil
}

// putLoop streams chunks strictly one at a time: chunk N+1 is never sent
// before chunk N's acknowledgment. A NACK or ack timeout resends the
// identical chunk; resends are idempotent on the device side, which
// overwrites rather than appends.
func (e *Engine) putLoop(ctx context.Context, s *session, data []byte) error {
	for s.sent < s.total {
		n := uint32(e.cfg.ChunkSize)
		if remaining := s.total - s.sent; remaining < n {
			n = remaining
		}
		chunk := data[s.sent : s.sent+n]

		msg := make([]byte, 9+len(chunk))
		msg[0] = cmdPut
		binary.BigEndian.PutUint32(msg[1:5], s.token)
		binary.BigEndian.PutUint32(msg[5:9], uint32(len(chunk)))
		copy(msg[9:], chunk)

		resp, err := e.conn.Request(ctx, protocol.EndpointPutBytes, msg, protocol.EndpointPutBytes, e.cfg.AckTimeout)
		switch {
		case err == nil && len(resp) >= 1 && resp[0] == statusAck:
			s.sent += n
			s.chunkIndex++
			s.retries = 0
			e.log.Debug().
				Uint32("sent", s.sent).
				Uint32("total", s.total).
				Uint32("chunk", s.chunkIndex).
				Msg("chunk acknowledged")
		case err == nil, errors.Is(err, protocol.ErrTimeout):
			s.retries++
			if s.retries > e.cfg.MaxRetries {
				e.abort(s)
				return fmt.Errorf("put_bytes chunk %d: %w", s.chunkIndex, protocol.ErrTransferFailed)
			}
			e.log.Warn().
				Uint32("chunk", s.chunkIndex).
				Int("attempt", s.retries).
				Msg("chunk not acknowledged, resending")
		default:
			// Connection-level failure; the session dies with it.
			return fmt.Errorf("put_bytes chunk %d: %w", s.chunkIndex, err)
		}

		if err := ctx.Err(); err != nil {
			e.abort(s)
			return err
		}
	}
	return nil
}

// commit asks the watch to validate the full object against its checksum.
// A refusal here is a checksum mismatch, which chunk-level retry cannot
// fix; the caller must restart the whole transfer.
func (e *Engine) commit(ctx context.Context, s *session, data []byte) error {
	s.state = stateCommit
	msg := make([]byte, 9)
	msg[0] = cmdCommit
	binary.BigEndian.PutUint32(msg[1:5], s.token)
	binary.BigEndian.PutUint32(msg[5:9], crc.Checksum(data))

	resp, err := e.conn.Request(ctx, protocol.EndpointPutBytes, msg, protocol.EndpointPutBytes, e.cfg.AckTimeout)
	if err != nil {
		e.abort(s)
		return fmt.Errorf("put_bytes commit: %w", err)
	}
	if len(resp) < 1 || resp[0] != statusAck {
		e.abort(s)
		return fmt.Errorf("put_bytes commit: %w", protocol.ErrIntegrity)
	}
	return nil
}

// install activates the committed object.
func (e *Engine) install(ctx context.Context, s *session) error {
	msg := make([]byte, 5)
	msg[0] = cmdInstall
	binary.BigEndian.PutUint32(msg[1:5], s.token)

	resp, err := e.conn.Request(ctx, protocol.EndpointPutBytes, msg, protocol.EndpointPutBytes, e.cfg.AckTimeout)
	if err != nil {
		e.abort(s)
		return fmt.Errorf("put_bytes install: %w", err)
	}
	if len(resp) < 1 || resp[0] != statusAck {
		e.abort(s)
		return fmt.Errorf("put_bytes install refused: %w", protocol.ErrTransferFailed)
	}
	return nil
}

// abort releases the watch's transfer state. Fire-and-forget: the
// session is already failing and the caller's error wins.
func (e *Engine) abort(s *session) {
	msg := make([]byte, 5)
	msg[0] = cmdAbort
	binary.BigEndian.PutUint32(msg[1:5], s.token)
	if err := e.conn.Send(protocol.EndpointPutBytes, msg); err != nil {
		e.log.Debug().Err(err).Msg("abort message not delivered")
		return
	}
	e.log.Debug().Uint32("token", s.token).Msg("session aborted")
}
