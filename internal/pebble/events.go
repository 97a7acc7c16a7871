package pebble

import (
	"encoding/binary"
	"time"

	"github.com/danmuck/pebblectl/internal/protocol"
)

// LogRecord is one log line emitted by the watch firmware.
type LogRecord struct {
	Timestamp time.Time
	Level     uint8
	Line      uint16
	Filename  string
	Message   string
}

const logRecordHeaderLen = 24

// DecodeLogRecord parses a LOGS endpoint payload.
func DecodeLogRecord(payload []byte) (LogRecord, bool) {
	if len(payload) < logRecordHeaderLen {
		return LogRecord{}, false
	}
	size := int(payload[5])
	if len(payload) < logRecordHeaderLen+size {
		return LogRecord{}, false
	}
	return LogRecord{
		Timestamp: time.Unix(int64(binary.BigEndian.Uint32(payload[0:4])), 0),
		Level:     payload[4],
		Line:      binary.BigEndian.Uint16(payload[6:8]),
		Filename:  cstr(payload[8:24]),
		Message:   string(payload[24 : 24+size]),
	}, true
}

// LevelTag renders a firmware log level as the single-character tag the
// watch's own console uses.
func LevelTag(level uint8) string {
	switch level {
	case 0:
		return "*"
	case 1:
		return "E"
	case 50:
		return "W"
	case 100:
		return "I"
	case 200:
		return "D"
	case 250:
		return "V"
	default:
		return "?"
	}
}

// logDeviceRecord is the durable LOGS subscriber installed at client
// construction; it forwards firmware log lines into the host log.
func (c *Client) logDeviceRecord(endpoint protocol.Endpoint, payload []byte) {
	rec, ok := DecodeLogRecord(payload)
	if !ok {
		c.log.Warn().Int("bytes", len(payload)).Msg("undecodable device log record")
		return
	}
	c.log.Info().
		Str("level", LevelTag(rec.Level)).
		Str("file", rec.Filename).
		Uint16("line", rec.Line).
		Time("device_time", rec.Timestamp).
		Msg(rec.Message)
}

// OnLog registers an additional durable subscriber for decoded device
// log records; the returned function cancels it.
func (c *Client) OnLog(h func(LogRecord)) func() {
	return c.conn.Subscribe(protocol.EndpointLogs, func(endpoint protocol.Endpoint, payload []byte) {
		if rec, ok := DecodeLogRecord(payload); ok {
			h(rec)
		}
	})
}

// MusicEvent is a media-control action requested from the watch.
type MusicEvent uint8

const (
	MusicPlayPause MusicEvent = 1
	MusicNext      MusicEvent = 4
	MusicPrevious  MusicEvent = 5
)

func (e MusicEvent) String() string {
	switch e {
	case MusicPlayPause:
		return "playpause"
	case MusicNext:
		return "next"
	case MusicPrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// OnMusicControl registers a durable subscriber for media-control events.
// The handler runs on the inbound loop and must not block.
func (c *Client) OnMusicControl(h func(MusicEvent)) func() {
	return c.conn.Subscribe(protocol.EndpointMusicControl, func(endpoint protocol.Endpoint, payload []byte) {
		if len(payload) < 1 {
			return
		}
		h(MusicEvent(payload[0]))
	})
}
