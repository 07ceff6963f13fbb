package hub

import (
	"errors"
	"time"

	"github.com/morezero/capabilities-hub/pkg/engine"
)

// Hub error codes.
const (
	CodeMethodNotFound = "METHOD_NOT_FOUND"
	CodeAmbiguousOwner = "AMBIGUOUS_OWNER"
	CodePeerFailed     = "PEER_FAILED"
	CodePeerExists     = "PEER_EXISTS"
	CodeClosed         = "HUB_CLOSED"
)

// Class is a bundle of local methods registered with AddClass and exposed
// on every peer connection.
type Class interface {
	Methods() engine.Methods
}

// MethodSet is a Class backed by a plain map.
type MethodSet engine.Methods

// Methods returns the set itself.
func (m MethodSet) Methods() engine.Methods {
	return engine.Methods(m)
}

// Channel is one message-oriented link to a peer. Transmit is used as the
// engine's transmitter; Listen delivers each inbound payload to receive.
type Channel interface {
	Transmit(payload []byte, done func(err error))
	Listen(receive func(payload []byte)) error
	Close() error
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID           string    `json:"id"`
	Capabilities []string  `json:"capabilities"`
	Confirmed    bool      `json:"confirmed"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// HubError is a structured error from the hub.
type HubError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Method  string   `json:"method,omitempty"`
	Peers   []string `json:"peers,omitempty"`
	Err     error    `json:"-"`
}

func (e *HubError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *HubError) Unwrap() error {
	return e.Err
}

// NewHubError creates a new HubError.
func NewHubError(code, message string) *HubError {
	return &HubError{Code: code, Message: message}
}

// IsCode reports whether err is a HubError with the given code.
func IsCode(err error, code string) bool {
	var hubErr *HubError
	return errors.As(err, &hubErr) && hubErr.Code == code
}
