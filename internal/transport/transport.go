// Package transport provides the duplex byte streams a connection runs
// over. Two variants exist: the watch's virtual serial port and a BLE
// UART bridge. The protocol layers above are agnostic to which is used.
package transport

// Transport is an ordered, reliable duplex byte stream to the watch.
// Read blocks until at least one byte is available or the stream fails;
// Close unblocks any pending Read.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}
