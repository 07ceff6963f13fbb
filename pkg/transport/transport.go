// Package transport provides message channels that carry engine payloads
// between peers: a NATS subject pair and an in-memory pipe.
package transport

import "errors"

var (
	// ErrClosed is reported for sends on a closed channel.
	ErrClosed = errors.New("transport: channel closed")
	// ErrRateLimited is reported when a send exceeds the publish rate. The
	// engine treats it like any other send failure and re-queues.
	ErrRateLimited = errors.New("transport: publish rate exceeded")
	// ErrAlreadyListening is returned by a second Listen on one channel.
	ErrAlreadyListening = errors.New("transport: already listening")
)
