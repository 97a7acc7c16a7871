package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/pebblectl/internal/connection"
	"github.com/danmuck/pebblectl/internal/protocol"
)

// fakeConn satisfies Conn with scripted per-endpoint handlers. Requests
// to an endpoint with no handler time out; Sends are only recorded.
type fakeConn struct {
	mu       sync.Mutex
	handlers map[protocol.Endpoint]func(payload []byte) ([]byte, error)
	sends    []sentFrame
	requests []sentFrame
	done     chan struct{}
}

type sentFrame struct {
	endpoint protocol.Endpoint
	payload  []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		handlers: make(map[protocol.Endpoint]func([]byte) ([]byte, error)),
		done:     make(chan struct{}),
	}
}

func (f *fakeConn) Request(_ context.Context, endpoint protocol.Endpoint, payload []byte, _ protocol.Endpoint, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, sentFrame{endpoint, append([]byte(nil), payload...)})
	h := f.handlers[endpoint]
	f.mu.Unlock()
	if h == nil {
		return nil, protocol.ErrTimeout
	}
	return h(payload)
}

func (f *fakeConn) Send(endpoint protocol.Endpoint, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentFrame{endpoint, append([]byte(nil), payload...)})
	return nil
}

func (f *fakeConn) Subscribe(protocol.Endpoint, connection.Handler) func() { return func() {} }
func (f *fakeConn) Close() error                                          { return nil }
func (f *fakeConn) Done() <-chan struct{}                                 { return f.done }
func (f *fakeConn) Err() error                                            { return nil }

func (f *fakeConn) sentTo(endpoint protocol.Endpoint) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, s := range f.sends {
		if s.endpoint == endpoint {
			out = append(out, s)
		}
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	cfg := Config{RequestTimeout: 100 * time.Millisecond}
	return NewClient(conn, cfg, zerolog.Nop()), conn
}

func TestPingEchoesCookie(t *testing.T) {
	client, conn := newTestClient(t)
	conn.handlers[protocol.EndpointPing] = func(payload []byte) ([]byte, error) {
		return payload, nil
	}
	if err := client.Ping(context.Background(), 0xCAFEF00D); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPingCookieMismatch(t *testing.T) {
	client, conn := newTestClient(t)
	conn.handlers[protocol.EndpointPing] = func([]byte) ([]byte, error) {
		wrong := make([]byte, 5)
		binary.BigEndian.PutUint32(wrong[1:5], 0xBADC0DE)
		return wrong, nil
	}
	err := client.Ping(context.Background(), DefaultCookie)
	if err == nil {
		t.Fatal("expected cookie mismatch error")
	}
}

func TestPingTimeout(t *testing.T) {
	client, _ := newTestClient(t)
	err := client.Ping(context.Background(), DefaultCookie)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestGetTime(t *testing.T) {
	client, conn := newTestClient(t)
	want := time.Date(2013, time.March, 11, 8, 0, 0, 0, time.UTC)
	conn.handlers[protocol.EndpointTime] = func([]byte) ([]byte, error) {
		resp := make([]byte, 5)
		binary.BigEndian.PutUint32(resp[1:5], uint32(want.Unix()))
		return resp, nil
	}
	got, err := client.GetTime(context.Background())
	if err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("time = %v, want %v", got, want)
	}
}

func TestSetTimePayload(t *testing.T) {
	client, conn := newTestClient(t)
	at := time.Unix(0x5000_0000, 0)
	if err := client.SetTime(at); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	sent := conn.sentTo(protocol.EndpointTime)
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	want := []byte{0x02, 0x50, 0x00, 0x00, 0x00}
	if !bytes.Equal(sent[0].payload, want) {
		t.Fatalf("payload = % x, want % x", sent[0].payload, want)
	}
}

func TestNotificationSMSLayout(t *testing.T) {
	client, conn := newTestClient(t)
	if err := client.NotificationSMS("555-1234", "hello"); err != nil {
		t.Fatalf("NotificationSMS: %v", err)
	}
	sent := conn.sentTo(protocol.EndpointNotification)
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	p := sent[0].payload
	if p[0] != notificationSMS {
		t.Fatalf("lead byte = %d, want %d", p[0], notificationSMS)
	}
	parts := unpackParts(t, p[1:])
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3 (sender, body, timestamp)", len(parts))
	}
	if parts[0] != "555-1234" || parts[1] != "hello" {
		t.Fatalf("parts = %q", parts)
	}
}

func TestNotificationEmailLayout(t *testing.T) {
	client, conn := newTestClient(t)
	if err := client.NotificationEmail("alice", "subject line", "body text"); err != nil {
		t.Fatalf("NotificationEmail: %v", err)
	}
	p := conn.sentTo(protocol.EndpointNotification)[0].payload
	if p[0] != notificationEmail {
		t.Fatalf("lead byte = %d, want %d", p[0], notificationEmail)
	}
	parts := unpackParts(t, p[1:])
	if len(parts) != 4 {
		t.Fatalf("parts = %d, want 4 (sender, body, timestamp, subject)", len(parts))
	}
	if parts[0] != "alice" || parts[1] != "body text" || parts[3] != "subject line" {
		t.Fatalf("parts = %q", parts)
	}
}

func TestSetNowPlayingTruncates(t *testing.T) {
	client, conn := newTestClient(t)
	long := "0123456789012345678901234567890123456789"
	if err := client.SetNowPlayingMetadata(long, "album", "artist"); err != nil {
		t.Fatalf("SetNowPlayingMetadata: %v", err)
	}
	p := conn.sentTo(protocol.EndpointMusicControl)[0].payload
	if p[0] != nowPlayingLead {
		t.Fatalf("lead byte = %d, want %d", p[0], nowPlayingLead)
	}
	parts := unpackParts(t, p[1:])
	// Wire order is artist, album, track.
	if parts[2] != long[:30] {
		t.Fatalf("track = %q, want 30-char truncation", parts[2])
	}
}

// unpackParts reverses packParts: a run of length-prefixed strings.
func unpackParts(t *testing.T, b []byte) []string {
	t.Helper()
	var parts []string
	for len(b) > 0 {
		n := int(b[0])
		if len(b) < 1+n {
			t.Fatalf("truncated pascal string: need %d, have %d", n, len(b)-1)
		}
		parts = append(parts, string(b[1:1+n]))
		b = b[1+n:]
	}
	return parts
}

func appRecord(id, index uint32, name, company string) []byte {
	rec := make([]byte, appRecordLen)
	binary.BigEndian.PutUint32(rec[0:4], id)
	binary.BigEndian.PutUint32(rec[4:8], index)
	copy(rec[8:40], name)
	copy(rec[40:72], company)
	binary.BigEndian.PutUint16(rec[76:78], 0x0100)
	return rec
}

func encodeBankListing(banks uint32, recs ...[]byte) []byte {
	out := make([]byte, 9)
	out[0] = appMgrReplyListing
	binary.BigEndian.PutUint32(out[1:5], banks)
	binary.BigEndian.PutUint32(out[5:9], uint32(len(recs)))
	for _, rec := range recs {
		out = append(out, rec...)
	}
	return out
}

func TestDecodeBankStatus(t *testing.T) {
	payload := encodeBankListing(8,
		appRecord(42, 1, "Snake", "dm"),
		appRecord(43, 3, "Weather", "dm"),
	)
	status, err := DecodeBankStatus(payload)
	if err != nil {
		t.Fatalf("DecodeBankStatus: %v", err)
	}
	if status.Banks != 8 || len(status.Apps) != 2 {
		t.Fatalf("banks=%d apps=%d, want 8/2", status.Banks, len(status.Apps))
	}
	if status.Apps[0].Name != "Snake" || status.Apps[0].Index != 1 {
		t.Fatalf("app[0] = %+v", status.Apps[0])
	}
	if status.Apps[1].ID != 43 || status.Apps[1].Company != "dm" {
		t.Fatalf("app[1] = %+v", status.Apps[1])
	}
}

func TestFirstFreeBank(t *testing.T) {
	tests := []struct {
		name    string
		banks   uint32
		taken   []uint32
		want    uint32
		wantOK  bool
	}{
		{name: "empty watch", banks: 8, want: 1, wantOK: true},
		{name: "gap in the middle", banks: 8, taken: []uint32{1, 3}, want: 2, wantOK: true},
		{name: "contiguous from one", banks: 4, taken: []uint32{1, 2}, want: 3, wantOK: true},
		{name: "full", banks: 3, taken: []uint32{1, 2}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := BankStatus{Banks: tt.banks}
			for i, idx := range tt.taken {
				status.Apps = append(status.Apps, App{ID: uint32(i), Index: idx})
			}
			got, ok := status.FirstFreeBank()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Fatalf("FirstFreeBank() = %d,%v, want %d,%v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRemoveAppNotFound(t *testing.T) {
	client, conn := newTestClient(t)
	conn.handlers[protocol.EndpointAppManager] = func([]byte) ([]byte, error) {
		resp := make([]byte, 5)
		resp[0] = appMgrReplyMessage
		binary.BigEndian.PutUint32(resp[1:5], appMsgAvailable)
		return resp, nil
	}
	err := client.RemoveApp(context.Background(), 42, 1)
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestLaunchApp(t *testing.T) {
	client, conn := newTestClient(t)
	id := uuid.MustParse("6bf6215b-d00b-4b68-9fb6-3a3d75bcdc45")

	var gotPayload []byte
	conn.handlers[protocol.EndpointLauncher] = func(payload []byte) ([]byte, error) {
		gotPayload = payload
		// Bare ACK with the sender's transaction id echoed back.
		return []byte{0xFF, payload[1]}, nil
	}
	if err := client.LaunchApp(context.Background(), id); err != nil {
		t.Fatalf("LaunchApp: %v", err)
	}
	if gotPayload[0] != 0x01 {
		t.Fatalf("command = %#x, want PUSH", gotPayload[0])
	}
	if !bytes.Equal(gotPayload[2:18], id[:]) {
		t.Fatalf("uuid on wire = % x", gotPayload[2:18])
	}
}

func TestLaunchAppNack(t *testing.T) {
	client, conn := newTestClient(t)
	conn.handlers[protocol.EndpointLauncher] = func(payload []byte) ([]byte, error) {
		return []byte{0x7F, payload[1]}, nil
	}
	err := client.LaunchApp(context.Background(), uuid.New())
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDecodeLogRecord(t *testing.T) {
	msg := "hello from the watch"
	payload := make([]byte, logRecordHeaderLen+len(msg))
	binary.BigEndian.PutUint32(payload[0:4], 0x51CA3E00)
	payload[4] = 100
	payload[5] = byte(len(msg))
	binary.BigEndian.PutUint16(payload[6:8], 1234)
	copy(payload[8:24], "main.c")
	copy(payload[24:], msg)

	rec, ok := DecodeLogRecord(payload)
	if !ok {
		t.Fatal("DecodeLogRecord rejected a valid payload")
	}
	if rec.Level != 100 || rec.Line != 1234 || rec.Filename != "main.c" || rec.Message != msg {
		t.Fatalf("record = %+v", rec)
	}

	if _, ok := DecodeLogRecord(payload[:10]); ok {
		t.Fatal("DecodeLogRecord accepted a truncated payload")
	}
}

func TestDecodeVersionInfo(t *testing.T) {
	payload := make([]byte, versionInfoLen)
	// Normal firmware block.
	binary.BigEndian.PutUint32(payload[1:5], 0x51CA3E00)
	copy(payload[5:37], "v1.12.1")
	copy(payload[37:45], "deadbeef")
	payload[46] = 2 // hardware platform
	// Recovery firmware block.
	binary.BigEndian.PutUint32(payload[48:52], 0x50000000)
	copy(payload[52:84], "v1.10.0")
	payload[92] = 1 // recovery flag
	// Trailing identity fields.
	binary.BigEndian.PutUint32(payload[95:99], 0x4F000000)
	copy(payload[99:108], "rev2")
	copy(payload[108:120], "Q123456789AB")
	copy(payload[120:126], []byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11})

	info, err := DecodeVersionInfo(payload)
	if err != nil {
		t.Fatalf("DecodeVersionInfo: %v", err)
	}
	if info.Normal.Version != "v1.12.1" || info.Normal.Commit != "deadbeef" {
		t.Fatalf("normal = %+v", info.Normal)
	}
	if info.Normal.HardwarePlatform != 2 {
		t.Fatalf("hardware platform = %d, want 2", info.Normal.HardwarePlatform)
	}
	if !info.Recovery.IsRecovery || info.Recovery.Version != "v1.10.0" {
		t.Fatalf("recovery = %+v", info.Recovery)
	}
	if info.HardwareVersion != "rev2" || info.Serial != "Q123456789AB" {
		t.Fatalf("hw=%q serial=%q", info.HardwareVersion, info.Serial)
	}
	if info.BTMAC != "11:22:33:44:55:66" {
		t.Fatalf("btmac = %q", info.BTMAC)
	}

	if _, err := DecodeVersionInfo(payload[:100]); err == nil {
		t.Fatal("DecodeVersionInfo accepted a short payload")
	}
}

func TestSystemMessagePayload(t *testing.T) {
	client, conn := newTestClient(t)
	if err := client.SystemMessage(SystemFirmwareStart); err != nil {
		t.Fatalf("SystemMessage: %v", err)
	}
	sent := conn.sentTo(protocol.EndpointSystemMessage)
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if want := []byte{0x00, 0x01}; !bytes.Equal(sent[0].payload, want) {
		t.Fatalf("payload = % x, want % x", sent[0].payload, want)
	}
}

func TestResetPayload(t *testing.T) {
	client, conn := newTestClient(t)
	if err := client.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	sent := conn.sentTo(protocol.EndpointReset)
	if len(sent) != 1 || !bytes.Equal(sent[0].payload, []byte{0x00}) {
		t.Fatalf("reset frames = %v", sent)
	}
}
