package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/pebblectl/internal/protocol"
)

const (
	// HeaderLen is the outer frame header: payload length plus endpoint id.
	HeaderLen = 4

	// MaxPayload bounds the declared payload length. A larger value means
	// the stream has desynchronized; there is no way to resynchronize a
	// length-prefixed stream, so decoding fails hard.
	MaxPayload = 4096
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrPayloadTooLarge = errors.New("frame: declared payload too large")
	ErrTruncated       = errors.New("frame: stream closed mid-payload")
)

// Frame is one complete length-prefixed, endpoint-tagged message unit.
type Frame struct {
	Endpoint protocol.Endpoint
	Payload  []byte
}

// Encode renders f as length(2B BE) || endpoint(2B BE) || payload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(f.Payload)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Endpoint))
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// Write encodes f and writes it to w as a single write.
func Write(w io.Writer, f Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// Read blocks until one complete frame has been consumed from r.
// A stream that closes mid-frame or declares an oversized payload is
// unrecoverable; both surface as framing errors for the connection to
// treat as fatal. A clean EOF before any header byte returns io.EOF.
func Read(r io.Reader) (Frame, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint16(header[0:2])
	endpoint := protocol.Endpoint(binary.BigEndian.Uint16(header[2:4]))
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrTruncated
			}
			return Frame{}, err
		}
	}

	return Frame{Endpoint: endpoint, Payload: payload}, nil
}
