package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/pebblectl/internal/protocol"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("ping"),
		bytes.Repeat([]byte{0xAB}, MaxPayload),
	}
	for _, payload := range payloads {
		in := Frame{Endpoint: protocol.EndpointPing, Payload: payload}
		var buf bytes.Buffer
		if err := Write(&buf, in); err != nil {
			t.Fatalf("write frame (%d bytes): %v", len(payload), err)
		}
		out, err := Read(&buf)
		if err != nil {
			t.Fatalf("read frame (%d bytes): %v", len(payload), err)
		}
		if out.Endpoint != in.Endpoint {
			t.Fatalf("endpoint mismatch: got=%d want=%d", out.Endpoint, in.Endpoint)
		}
		if !bytes.Equal(out.Payload, payload) {
			t.Fatalf("payload mismatch for length %d", len(payload))
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	buf, err := Encode(Frame{Endpoint: protocol.EndpointPutBytes, Payload: []byte{0xCA, 0xFE}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x00, 0x02, 0xBE, 0xEF, 0xCA, 0xFE}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire layout mismatch: got=%x want=%x", buf, want)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Frame{Endpoint: protocol.EndpointPing, Payload: make([]byte, MaxPayload+1)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadShortHeader(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x00, 0x01}))
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadCleanEOF(t *testing.T) {
	_, err := Read(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadOversizedDeclaredLength(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0xFF, 0xFF, 0x07, 0xD1}))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadTruncatedPayload(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x00, 0x04, 0x07, 0xD1, 0xAA}))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
