// Package pebble is the high-level command surface of a connected watch:
// ping, time, notifications, app management, bulk installs, and app
// messages, composed over the connection and transfer layers.
package pebble

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/connection"
	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/putbytes"
)

// DefaultCookie is the ping payload used when the caller does not care.
const DefaultCookie uint32 = 0xDEC0DE

// Conn is the slice of a connection the client drives.
type Conn interface {
	Request(ctx context.Context, endpoint protocol.Endpoint, payload []byte, reply protocol.Endpoint, timeout time.Duration) ([]byte, error)
	Send(endpoint protocol.Endpoint, payload []byte) error
	Subscribe(endpoint protocol.Endpoint, h connection.Handler) func()
	Close() error
	Done() <-chan struct{}
	Err() error
}

// Config tunes the client's patience.
type Config struct {
	RequestTimeout time.Duration
	PutBytes       putbytes.Config
}

func (c Config) WithDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Client owns one watch session.
type Client struct {
	conn   Conn
	engine *putbytes.Engine
	cfg    Config
	log    zerolog.Logger
}

// NewClient wraps an open connection. It registers the session-level
// handlers the watch expects of any host: the phone-version answer and a
// sink for device log records.
func NewClient(conn Conn, cfg Config, log zerolog.Logger) *Client {
	c := &Client{
		conn:   conn,
		engine: putbytes.NewEngine(conn, cfg.PutBytes, log.With().Str("component", "putbytes").Logger()),
		cfg:    cfg.WithDefaults(),
		log:    log,
	}
	conn.Subscribe(protocol.EndpointPhoneVersion, c.answerPhoneVersion)
	conn.Subscribe(protocol.EndpointLogs, c.logDeviceRecord)
	return c
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed once the underlying connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Err reports why the connection closed, nil while it is open.
func (c *Client) Err() error {
	return c.conn.Err()
}

// Ping verifies connectivity; the watch echoes the cookie back.
func (c *Client) Ping(ctx context.Context, cookie uint32) error {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[1:5], cookie)

	resp, err := c.conn.Request(ctx, protocol.EndpointPing, payload, protocol.EndpointPing, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if len(resp) < 5 {
		return fmt.Errorf("ping: short reply (%d bytes)", len(resp))
	}
	if echoed := binary.BigEndian.Uint32(resp[1:5]); echoed != cookie {
		return fmt.Errorf("ping: cookie mismatch: sent %#x got %#x", cookie, echoed)
	}
	return nil
}

// GetTime reads the watch's RTC.
func (c *Client) GetTime(ctx context.Context) (time.Time, error) {
	resp, err := c.conn.Request(ctx, protocol.EndpointTime, []byte{0x00}, protocol.EndpointTime, c.cfg.RequestTimeout)
	if err != nil {
		return time.Time{}, fmt.Errorf("get time: %w", err)
	}
	if len(resp) < 5 {
		return time.Time{}, fmt.Errorf("get time: short reply (%d bytes)", len(resp))
	}
	return time.Unix(int64(binary.BigEndian.Uint32(resp[1:5])), 0), nil
}

// SetTime writes the watch's RTC. Fire-and-forget; the watch sends no
// confirmation.
func (c *Client) SetTime(t time.Time) error {
	payload := make([]byte, 5)
	payload[0] = 0x02
	binary.BigEndian.PutUint32(payload[1:5], uint32(t.Unix()))
	if err := c.conn.Send(protocol.EndpointTime, payload); err != nil {
		return fmt.Errorf("set time: %w", err)
	}
	return nil
}

// Reset reboots the watch.
func (c *Client) Reset() error {
	if err := c.conn.Send(protocol.EndpointReset, []byte{0x00}); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// SystemCommand is a state-change signal for the watch firmware.
type SystemCommand uint8

const (
	SystemFirmwareAvailable SystemCommand = iota
	SystemFirmwareStart
	SystemFirmwareComplete
	SystemFirmwareFail
	SystemFirmwareUpToDate
	SystemFirmwareOutOfDate
	SystemBluetoothStartDiscoverable
	SystemBluetoothEndDiscoverable
)

// SystemMessage signals an important event or state change to the watch.
func (c *Client) SystemMessage(cmd SystemCommand) error {
	if err := c.conn.Send(protocol.EndpointSystemMessage, []byte{0x00, byte(cmd)}); err != nil {
		return fmt.Errorf("system message %d: %w", cmd, err)
	}
	return nil
}

// answerPhoneVersion replies to the watch's phone-version query with the
// host's session and remote capability flags. The handler runs on the
// inbound loop, so the write goes out on its own goroutine; a transport
// that is slow to accept bytes must not stall dispatch.
func (c *Client) answerPhoneVersion(endpoint protocol.Endpoint, payload []byte) {
	const (
		sessionCapGammaRay = 0x80000000
		remoteCapTelephony = 16
		remoteCapSMS       = 32
		osAndroid          = 2
	)
	reply := make([]byte, 13)
	reply[0] = 0x01
	binary.BigEndian.PutUint32(reply[1:5], 0xFFFFFFFF) // unknown install id
	binary.BigEndian.PutUint32(reply[5:9], sessionCapGammaRay)
	binary.BigEndian.PutUint32(reply[9:13], remoteCapTelephony|remoteCapSMS|osAndroid)
	go func() {
		if err := c.conn.Send(protocol.EndpointPhoneVersion, reply); err != nil {
			c.log.Warn().Err(err).Msg("phone version reply failed")
		}
	}()
}
