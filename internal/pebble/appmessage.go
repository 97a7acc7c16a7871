package pebble

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/protocol/appmsg"
)

// LaunchApp asks the watch to start the app with the given UUID.
func (c *Client) LaunchApp(ctx context.Context, id uuid.UUID) error {
	return c.setRunState(ctx, id, appmsg.RunStateRunning)
}

// KillApp asks the watch to stop the app with the given UUID.
func (c *Client) KillApp(ctx context.Context, id uuid.UUID) error {
	return c.setRunState(ctx, id, appmsg.RunStateNotRunning)
}

func (c *Client) setRunState(ctx context.Context, id uuid.UUID, state uint8) error {
	msg := appmsg.Message{
		Command: appmsg.CommandPush,
		UUID:    id,
		Tuples:  []appmsg.Tuple{appmsg.Uint8Tuple(appmsg.RunStateKey, state)},
	}
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("launcher message: %w", err)
	}

	resp, err := c.conn.Request(ctx, protocol.EndpointLauncher, payload, protocol.EndpointLauncher, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("launcher message: %w", err)
	}
	reply, err := appmsg.Decode(resp)
	if err != nil {
		return fmt.Errorf("launcher reply: %w", err)
	}
	if reply.Command != appmsg.CommandAck {
		return fmt.Errorf("launcher message: watch replied %#x: %w", uint8(reply.Command), protocol.ErrNotFound)
	}
	return nil
}

// SendAppMessage pushes a key/value dictionary to the watchapp with the
// given UUID and waits for its ACK. A timeout here is recoverable; the
// connection stays usable.
func (c *Client) SendAppMessage(ctx context.Context, id uuid.UUID, tuples []appmsg.Tuple) error {
	msg := appmsg.Message{
		Command: appmsg.CommandPush,
		UUID:    id,
		Tuples:  tuples,
	}
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("app message: %w", err)
	}

	resp, err := c.conn.Request(ctx, protocol.EndpointApplicationMessage, payload, protocol.EndpointApplicationMessage, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("app message: %w", err)
	}
	reply, err := appmsg.Decode(resp)
	if err != nil {
		return fmt.Errorf("app message reply: %w", err)
	}
	if reply.Command == appmsg.CommandNack {
		return fmt.Errorf("app message: watchapp refused delivery")
	}
	return nil
}
