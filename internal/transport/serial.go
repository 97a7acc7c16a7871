package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the watch's serial profile runs at.
const DefaultBaudRate = 115200

// serialGlob matches the virtual serial port the watch exposes when
// paired; the four wildcard characters are the device id.
const serialGlob = "/dev/tty.Pebble????-SerialPortSe"

var ErrNoDevice = errors.New("transport: no paired watch serial port found")

// SerialConfig selects and configures a serial port transport.
type SerialConfig struct {
	// Device is the full device path. Empty triggers autodetection.
	Device string
	// DeviceID is the four-character id embedded in the device path,
	// used when Device is empty.
	DeviceID string
	BaudRate int
}

// DialSerial opens the watch's virtual serial port.
func DialSerial(cfg SerialConfig) (Transport, error) {
	device := cfg.Device
	if device == "" && cfg.DeviceID != "" {
		device = fmt.Sprintf("/dev/tty.Pebble%s-SerialPortSe", cfg.DeviceID)
	}
	if device == "" {
		detected, err := AutodetectSerial()
		if err != nil {
			return nil, err
		}
		device = detected
	}

	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", device, err)
	}
	return port, nil
}

// AutodetectSerial locates a paired watch serial port. When several are
// present the most recently paired one wins.
func AutodetectSerial() (string, error) {
	matches, err := filepath.Glob(serialGlob)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoDevice
	}
	sort.Slice(matches, func(i, j int) bool {
		return mtime(matches[i]).After(mtime(matches[j]))
	})
	return matches[0], nil
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
