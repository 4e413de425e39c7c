package domain

import "errors"

var (
	// ErrPermissionDenied means the capture device was refused. Terminal for
	// the current attempt; surfaced to the caller, never retried silently.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrTransportClosed is returned by sends attempted while the signaling
	// channel is not open. Such messages are dropped, not queued.
	ErrTransportClosed = errors.New("transport closed")

	// ErrBackpressure means the outbound signaling buffer is full.
	ErrBackpressure = errors.New("backpressure")
)
