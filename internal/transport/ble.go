package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// UART-over-GATT service the watch bridge exposes (Nordic UART layout:
// one write characteristic host->watch, one notify characteristic back).
const (
	DefaultUARTServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultUARTWriteUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultUARTNotifyUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

const defaultScanTimeout = 15 * time.Second

var (
	ErrScanTimeout     = errors.New("transport: scan found no matching watch")
	ErrMissingUARTChar = errors.New("transport: UART characteristics not found")
	ErrClosed          = errors.New("transport: closed")
)

// BLEConfig selects the watch to connect to over BLE. Name and Address
// are alternatives; an empty config matches any advertiser whose local
// name contains "Pebble".
type BLEConfig struct {
	Name        string
	Address     string
	ServiceUUID string
	WriteUUID   string
	NotifyUUID  string
	ScanTimeout time.Duration
}

type bleTransport struct {
	device    bluetooth.Device
	writeChar bluetooth.DeviceCharacteristic

	mu       sync.Mutex
	inbound  chan []byte
	leftover []byte
	closed   chan struct{}
	once     sync.Once
}

// DialBLE scans for the watch, connects, and bridges its UART service
// into a byte-stream Transport.
func DialBLE(cfg BLEConfig) (Transport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("transport: enable bluetooth: %w", err)
	}

	result, err := scan(adapter, cfg)
	if err != nil {
		return nil, err
	}

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("transport: connect: %w", err)
	}

	tr := &bleTransport{
		device:  device,
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
	if err := tr.setupUART(cfg); err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return tr, nil
}

func scan(adapter *bluetooth.Adapter, cfg BLEConfig) (bluetooth.ScanResult, error) {
	timeout := cfg.ScanTimeout
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}

	var (
		match bluetooth.ScanResult
		found bool
	)
	done := make(chan struct{})
	go func() {
		time.Sleep(timeout)
		adapter.StopScan()
		close(done)
	}()

	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !matches(cfg, result) {
			return
		}
		match = result
		found = true
		adapter.StopScan()
	})
	if err != nil {
		return bluetooth.ScanResult{}, fmt.Errorf("transport: scan: %w", err)
	}
	if !found {
		<-done
		return bluetooth.ScanResult{}, ErrScanTimeout
	}
	return match, nil
}

func matches(cfg BLEConfig, result bluetooth.ScanResult) bool {
	if cfg.Address != "" {
		return strings.EqualFold(result.Address.String(), cfg.Address)
	}
	name := result.LocalName()
	if cfg.Name != "" {
		return strings.EqualFold(name, cfg.Name)
	}
	return strings.Contains(strings.ToLower(name), "pebble")
}

func (t *bleTransport) setupUART(cfg BLEConfig) error {
	serviceUUID := cfg.ServiceUUID
	if serviceUUID == "" {
		serviceUUID = DefaultUARTServiceUUID
	}
	writeUUID := cfg.WriteUUID
	if writeUUID == "" {
		writeUUID = DefaultUARTWriteUUID
	}
	notifyUUID := cfg.NotifyUUID
	if notifyUUID == "" {
		notifyUUID = DefaultUARTNotifyUUID
	}

	services, err := t.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("transport: discover services: %w", err)
	}
	var uart *bluetooth.DeviceService
	for i := range services {
		if strings.EqualFold(services[i].UUID().String(), serviceUUID) {
			uart = &services[i]
			break
		}
	}
	if uart == nil {
		return ErrMissingUARTChar
	}

	chars, err := uart.DiscoverCharacteristics(nil)
	if err != nil {
		return fmt.Errorf("transport: discover characteristics: %w", err)
	}
	var haveWrite, haveNotify bool
	for i := range chars {
		switch {
		case strings.EqualFold(chars[i].UUID().String(), writeUUID):
			t.writeChar = chars[i]
			haveWrite = true
		case strings.EqualFold(chars[i].UUID().String(), notifyUUID):
			if err := chars[i].EnableNotifications(t.onNotify); err != nil {
				return fmt.Errorf("transport: enable notifications: %w", err)
			}
			haveNotify = true
		}
	}
	if !haveWrite || !haveNotify {
		return ErrMissingUARTChar
	}
	return nil
}

func (t *bleTransport) onNotify(buf []byte) {
	data := make([]byte, len(buf))
	copy(data, buf)
	select {
	case t.inbound <- data:
	case <-t.closed:
	}
}

func (t *bleTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if len(t.leftover) > 0 {
		n := copy(p, t.leftover)
		t.leftover = t.leftover[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	select {
	case data := <-t.inbound:
		n := copy(p, data)
		if n < len(data) {
			t.mu.Lock()
			t.leftover = data[n:]
			t.mu.Unlock()
		}
		return n, nil
	case <-t.closed:
		return 0, ErrClosed
	}
}

func (t *bleTransport) Write(p []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}
	// BLE writes are bounded by the negotiated ATT payload; chunk
	// conservatively.
	const maxWrite = 20
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxWrite {
			n = maxWrite
		}
		if _, err := t.writeChar.WriteWithoutResponse(p[:n]); err != nil {
			return total, fmt.Errorf("transport: ble write: %w", err)
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (t *bleTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.device.Disconnect()
	})
	return err
}
