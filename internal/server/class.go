package server

import (
	"encoding/json"
	"time"

	"github.com/morezero/capabilities-hub/pkg/engine"
	"github.com/morezero/capabilities-hub/pkg/hub"
)

// Methods the hub serves to every peer.
const (
	MethodPing  = "hub.ping"
	MethodPeers = "hub.peers"
)

type peerLister interface {
	Peers() []hub.PeerInfo
}

// hubClass exposes the hub's own methods to its peers.
type hubClass struct {
	name  string
	peers peerLister
	now   func() time.Time
}

func newHubClass(name string, peers peerLister) *hubClass {
	return &hubClass{name: name, peers: peers, now: time.Now}
}

// PingOutput is the result of hub.ping.
type PingOutput struct {
	Hub  string `json:"hub"`
	Time string `json:"time"`
}

func (c *hubClass) Methods() engine.Methods {
	return engine.Methods{
		MethodPing: func(_ json.RawMessage, respond engine.Responder) {
			respond(nil, &PingOutput{Hub: c.name, Time: c.now().UTC().Format(time.RFC3339)})
		},
		MethodPeers: func(_ json.RawMessage, respond engine.Responder) {
			respond(nil, c.peers.Peers())
		},
	}
}
