package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pebblectl/internal/protocol"
)

// FirmwareVersion describes one firmware image on the watch.
type FirmwareVersion struct {
	Timestamp        time.Time
	Version          string
	Commit           string
	IsRecovery       bool
	HardwarePlatform uint8
	MetadataVersion  uint8
}

// VersionInfo is the watch's full software/hardware version summary.
type VersionInfo struct {
	Normal              FirmwareVersion
	Recovery            FirmwareVersion
	BootloaderTimestamp time.Time
	HardwareVersion     string
	Serial              string
	BTMAC               string
}

const (
	fwVersionLen   = 47
	versionInfoLen = 126
)

// GetVersions retrieves the firmware/bootloader version summary.
func (c *Client) GetVersions(ctx context.Context) (VersionInfo, error) {
	resp, err := c.conn.Request(ctx, protocol.EndpointVersion, []byte{0x00}, protocol.EndpointVersion, c.cfg.RequestTimeout)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("get versions: %w", err)
	}
	return DecodeVersionInfo(resp)
}

// DecodeVersionInfo parses a VERSION endpoint reply.
func DecodeVersionInfo(payload []byte) (VersionInfo, error) {
	if len(payload) < versionInfoLen {
		return VersionInfo{}, fmt.Errorf("version reply too short: %d bytes", len(payload))
	}

	var info VersionInfo
	info.Normal = decodeFirmwareVersion(payload[1 : 1+fwVersionLen])
	info.Recovery = decodeFirmwareVersion(payload[48 : 48+fwVersionLen])
	info.BootloaderTimestamp = time.Unix(int64(binary.BigEndian.Uint32(payload[95:99])), 0)
	info.HardwareVersion = cstr(payload[99:108])
	info.Serial = cstr(payload[108:120])
	info.BTMAC = formatBTMAC(payload[120:126])
	return info, nil
}

func decodeFirmwareVersion(b []byte) FirmwareVersion {
	return FirmwareVersion{
		Timestamp:        time.Unix(int64(int32(binary.BigEndian.Uint32(b[0:4]))), 0),
		Version:          cstr(b[4:36]),
		Commit:           cstr(b[36:44]),
		IsRecovery:       b[44] != 0,
		HardwarePlatform: b[45],
		MetadataVersion:  b[46],
	}
}

// formatBTMAC renders the wire's reversed 6-byte MAC as conventional
// colon-separated hex.
func formatBTMAC(b []byte) string {
	parts := make([]string, 0, len(b))
	for i := len(b) - 1; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("%02X", b[i]))
	}
	return strings.Join(parts, ":")
}

// cstr trims a fixed-width NUL-padded field.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0x00); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
