package pebble

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/danmuck/pebblectl/internal/protocol"
)

// App is one installed application record from the bank listing.
type App struct {
	ID      uint32
	Index   uint32
	Name    string
	Company string
	Flags   uint32
	Version uint16
}

// BankStatus is a snapshot of the watch's app banks.
type BankStatus struct {
	Banks uint32
	Apps  []App
}

// FirstFreeBank returns the lowest unoccupied bank index, or false when
// every bank is taken. Bank 0 is reserved for firmware objects.
func (s BankStatus) FirstFreeBank() (uint32, bool) {
	free := uint32(1)
	for {
		taken := false
		for _, app := range s.Apps {
			if app.Index == free {
				taken = true
				break
			}
		}
		if !taken {
			break
		}
		free++
	}
	if free >= s.Banks {
		return 0, false
	}
	return free, true
}

// App-manager request command bytes.
const (
	appMgrList         uint8 = 0x01
	appMgrRemove       uint8 = 0x02
	appMgrAdd          uint8 = 0x03
	appMgrReplyListing uint8 = 0x01
	appMgrReplyMessage uint8 = 0x02
)

// App-manager result messages (reply type 2).
const (
	appMsgAvailable uint32 = 0
	appMsgRemoved   uint32 = 1
	appMsgUpdated   uint32 = 2
)

const appRecordLen = 78

// GetAppBankStatus lists installed apps and total bank count.
func (c *Client) GetAppBankStatus(ctx context.Context) (BankStatus, error) {
	resp, err := c.conn.Request(ctx, protocol.EndpointAppManager, []byte{appMgrList}, protocol.EndpointAppManager, c.cfg.RequestTimeout)
	if err != nil {
		return BankStatus{}, fmt.Errorf("list apps: %w", err)
	}
	return DecodeBankStatus(resp)
}

// DecodeBankStatus parses a type-1 app-manager listing reply.
func DecodeBankStatus(payload []byte) (BankStatus, error) {
	if len(payload) < 9 || payload[0] != appMgrReplyListing {
		return BankStatus{}, fmt.Errorf("unexpected app listing reply (%d bytes)", len(payload))
	}
	status := BankStatus{Banks: binary.BigEndian.Uint32(payload[1:5])}
	installed := int(binary.BigEndian.Uint32(payload[5:9]))

	offset := 9
	for i := 0; i < installed; i++ {
		if len(payload) < offset+appRecordLen {
			return BankStatus{}, fmt.Errorf("app listing truncated at record %d", i)
		}
		rec := payload[offset : offset+appRecordLen]
		status.Apps = append(status.Apps, App{
			ID:      binary.BigEndian.Uint32(rec[0:4]),
			Index:   binary.BigEndian.Uint32(rec[4:8]),
			Name:    cstr(rec[8:40]),
			Company: cstr(rec[40:72]),
			Flags:   binary.BigEndian.Uint32(rec[72:76]),
			Version: binary.BigEndian.Uint16(rec[76:78]),
		})
		offset += appRecordLen
	}
	return status, nil
}

// RemoveApp deletes the app occupying the given id and bank index.
func (c *Client) RemoveApp(ctx context.Context, id, index uint32) error {
	payload := make([]byte, 9)
	payload[0] = appMgrRemove
	binary.BigEndian.PutUint32(payload[1:5], id)
	binary.BigEndian.PutUint32(payload[5:9], index)
	return c.removeExchange(ctx, payload)
}

// RemoveAppByUUID deletes the app with the given UUID.
func (c *Client) RemoveAppByUUID(ctx context.Context, id uuid.UUID) error {
	payload := append([]byte{appMgrRemove}, id[:]...)
	return c.removeExchange(ctx, payload)
}

func (c *Client) removeExchange(ctx context.Context, payload []byte) error {
	resp, err := c.conn.Request(ctx, protocol.EndpointAppManager, payload, protocol.EndpointAppManager, c.cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("remove app: %w", err)
	}
	msg, err := decodeAppMessage(resp)
	if err != nil {
		return fmt.Errorf("remove app: %w", err)
	}
	if msg != appMsgRemoved {
		return fmt.Errorf("remove app: reply %d: %w", msg, protocol.ErrNotFound)
	}
	return nil
}

// AddApp registers the app most recently transferred into the given
// bank. Fire-and-forget, matching the watch's install flow.
func (c *Client) AddApp(index uint32) error {
	payload := make([]byte, 5)
	payload[0] = appMgrAdd
	binary.BigEndian.PutUint32(payload[1:5], index)
	if err := c.conn.Send(protocol.EndpointAppManager, payload); err != nil {
		return fmt.Errorf("add app: %w", err)
	}
	return nil
}

func decodeAppMessage(payload []byte) (uint32, error) {
	if len(payload) < 5 || payload[0] != appMgrReplyMessage {
		return 0, fmt.Errorf("unexpected app-manager reply (%d bytes)", len(payload))
	}
	return binary.BigEndian.Uint32(payload[1:5]), nil
}
