// Package events defines event types and publisher interfaces for hub peer change events.
package events

// Peer change kinds.
const (
	ChangeConnected = "connected"
	ChangeUpgraded  = "upgraded"
	ChangeRemoved   = "removed"
)

// PeerChangedEvent is emitted when a peer connects, completes a handshake
// or is removed from a hub.
type PeerChangedEvent struct {
	Hub          string   `json:"hub"`
	PeerID       string   `json:"peerId"`
	Change       string   `json:"change"`
	Capabilities []string `json:"capabilities,omitempty"`
	Peers        int      `json:"peers"`
	Timestamp    string   `json:"timestamp"`
}
