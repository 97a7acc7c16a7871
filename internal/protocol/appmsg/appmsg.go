// Package appmsg encodes and decodes AppMessage dictionaries, the tagged
// key/value payloads exchanged with watchapps on the APPLICATION_MESSAGE
// and LAUNCHER endpoints.
package appmsg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TupleType is the enumerated value-type tag of one dictionary entry.
type TupleType uint8

const (
	TypeByteArray TupleType = 0
	TypeCString   TupleType = 1
	TypeUint      TupleType = 2
	TypeInt       TupleType = 3
)

// Command is the leading byte of an AppMessage.
type Command uint8

const (
	CommandPush    Command = 0x01
	CommandRequest Command = 0x02
	CommandAck     Command = 0xFF
	CommandNack    Command = 0x7F
)

// RunStateKey is the launcher dictionary key controlling app run state.
const RunStateKey uint32 = 0x00000001

const (
	RunStateRunning    uint8 = 1
	RunStateNotRunning uint8 = 0
)

const tupleHeaderLen = 7

var (
	ErrShortMessage  = errors.New("appmsg: message shorter than fixed header")
	ErrShortTuple    = errors.New("appmsg: truncated tuple")
	ErrValueTooLarge = errors.New("appmsg: tuple value too large")
)

// Tuple is one key/value entry. Integer values travel little-endian on the
// wire; strings and byte arrays travel as-is.
type Tuple struct {
	Key  uint32
	Type TupleType
	Data []byte
}

func Uint32Tuple(key, value uint32) Tuple {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, value)
	return Tuple{Key: key, Type: TypeUint, Data: data}
}

func Uint8Tuple(key uint32, value uint8) Tuple {
	return Tuple{Key: key, Type: TypeUint, Data: []byte{value}}
}

func Int32Tuple(key uint32, value int32) Tuple {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(value))
	return Tuple{Key: key, Type: TypeInt, Data: data}
}

func CStringTuple(key uint32, value string) Tuple {
	data := append([]byte(value), 0x00)
	return Tuple{Key: key, Type: TypeCString, Data: data}
}

func BytesTuple(key uint32, value []byte) Tuple {
	return Tuple{Key: key, Type: TypeByteArray, Data: value}
}

// Message is one complete AppMessage addressed to the watchapp with UUID.
type Message struct {
	Command     Command
	Transaction uint8
	UUID        uuid.UUID
	Tuples      []Tuple
}

// Encode renders m as command || transaction || uuid(16B) || count(1B) ||
// tuples, each tuple being key(4B LE) || type(1B) || length(2B LE) || data.
func (m Message) Encode() ([]byte, error) {
	size := 1 + 1 + 16 + 1
	for _, tup := range m.Tuples {
		if len(tup.Data) > 0xFFFF {
			return nil, fmt.Errorf("%w: key %d holds %d bytes", ErrValueTooLarge, tup.Key, len(tup.Data))
		}
		size += tupleHeaderLen + len(tup.Data)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, byte(m.Command), m.Transaction)
	buf = append(buf, m.UUID[:]...)
	buf = append(buf, byte(len(m.Tuples)))
	for _, tup := range m.Tuples {
		var header [tupleHeaderLen]byte
		binary.LittleEndian.PutUint32(header[0:4], tup.Key)
		header[4] = byte(tup.Type)
		binary.LittleEndian.PutUint16(header[5:7], uint16(len(tup.Data)))
		buf = append(buf, header[:]...)
		buf = append(buf, tup.Data...)
	}
	return buf, nil
}

// Decode parses an inbound AppMessage payload. ACK/NACK replies carry only
// the command and transaction bytes; anything longer must hold the full
// uuid-plus-dictionary shape.
func Decode(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return Message{}, ErrShortMessage
	}
	m := Message{
		Command:     Command(payload[0]),
		Transaction: payload[1],
	}
	if len(payload) == 2 {
		return m, nil
	}
	if len(payload) < 2+16+1 {
		return Message{}, ErrShortMessage
	}
	copy(m.UUID[:], payload[2:18])
	count := int(payload[18])
	rest := payload[19:]
	for i := 0; i < count; i++ {
		if len(rest) < tupleHeaderLen {
			return Message{}, ErrShortTuple
		}
		length := int(binary.LittleEndian.Uint16(rest[5:7]))
		if len(rest) < tupleHeaderLen+length {
			return Message{}, ErrShortTuple
		}
		data := make([]byte, length)
		copy(data, rest[tupleHeaderLen:tupleHeaderLen+length])
		m.Tuples = append(m.Tuples, Tuple{
			Key:  binary.LittleEndian.Uint32(rest[0:4]),
			Type: TupleType(rest[4]),
			Data: data,
		})
		rest = rest[tupleHeaderLen+length:]
	}
	return m, nil
}
