package protocol

import "errors"

var (
	ErrFraming        = errors.New("protocol: malformed or desynchronized stream")
	ErrTransport      = errors.New("protocol: transport write failed")
	ErrConnectionLost = errors.New("protocol: connection lost")
	ErrTimeout        = errors.New("protocol: timed out awaiting reply")
	ErrTransferFailed = errors.New("protocol: transfer retry budget exhausted")
	ErrIntegrity      = errors.New("protocol: object checksum rejected by device")
	ErrNotFound       = errors.New("protocol: application not found on device")
	ErrBusy           = errors.New("protocol: another request is already in flight")
)
