package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/connection"
	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/protocol/frame"
)

// startWatchSession wires a client to a real connection over a pipe; the
// returned net.Conn is the watch side of the wire.
func startWatchSession(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	host, device := net.Pipe()
	conn := connection.New(host, connection.Config{DefaultRequestTimeout: 2 * time.Second}, zerolog.Nop())
	client := NewClient(conn, Config{RequestTimeout: 2 * time.Second}, zerolog.Nop())
	t.Cleanup(func() {
		_ = client.Close()
		_ = device.Close()
	})
	return client, device
}

func TestPhoneVersionAnswerDoesNotStallDispatch(t *testing.T) {
	client, device := startWatchSession(t)

	pingDone := make(chan error, 1)
	go func() {
		pingDone <- client.Ping(context.Background(), DefaultCookie)
	}()

	req, err := frame.Read(device)
	if err != nil {
		t.Fatalf("read ping request: %v", err)
	}
	if req.Endpoint != protocol.EndpointPing {
		t.Fatalf("first outbound frame on %s, want PING", req.Endpoint)
	}

	// Deliver the version query and the ping reply back to back without
	// draining the version answer: the reply to the query must not hold
	// up dispatch of the frame already behind it.
	if err := frame.Write(device, frame.Frame{Endpoint: protocol.EndpointPhoneVersion, Payload: []byte{0x00}}); err != nil {
		t.Fatalf("write version query: %v", err)
	}
	if err := frame.Write(device, frame.Frame{Endpoint: protocol.EndpointPing, Payload: req.Payload}); err != nil {
		t.Fatalf("write ping reply: %v", err)
	}

	if err := <-pingDone; err != nil {
		t.Fatalf("Ping: %v", err)
	}

	answer, err := frame.Read(device)
	if err != nil {
		t.Fatalf("read version answer: %v", err)
	}
	if answer.Endpoint != protocol.EndpointPhoneVersion {
		t.Fatalf("answer on %s, want PHONE_VERSION", answer.Endpoint)
	}
	p := answer.Payload
	if len(p) != 13 {
		t.Fatalf("answer length = %d, want 13", len(p))
	}
	if p[0] != 0x01 {
		t.Fatalf("answer lead byte = %#x, want 0x01", p[0])
	}
	if id := binary.BigEndian.Uint32(p[1:5]); id != 0xFFFFFFFF {
		t.Fatalf("install id = %#x, want 0xFFFFFFFF", id)
	}
	if caps := binary.BigEndian.Uint32(p[5:9]); caps != 0x80000000 {
		t.Fatalf("session caps = %#x, want 0x80000000", caps)
	}
	// Telephony (16) | SMS (32) | Android (2).
	if remote := binary.BigEndian.Uint32(p[9:13]); remote != 50 {
		t.Fatalf("remote caps = %d, want 50", remote)
	}
}

func TestClientDoneOnConnectionLoss(t *testing.T) {
	client, device := startWatchSession(t)

	_ = device.Close()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after the transport dropped")
	}
	if err := client.Err(); !errors.Is(err, protocol.ErrConnectionLost) {
		t.Fatalf("Err() = %v, want ErrConnectionLost", err)
	}
}
