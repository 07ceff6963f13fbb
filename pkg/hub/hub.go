// Package hub owns a set of peer connection engines and routes calls to
// them by capability, either to every exposing peer (fan-out) or to the
// single owning peer (pass-through).
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/capabilities-hub/pkg/engine"
	"github.com/morezero/capabilities-hub/pkg/events"
	"github.com/morezero/capabilities-hub/pkg/loop"
)

const logPrefix = "hub:hub"

// NewHubParams holds parameters for New.
type NewHubParams struct {
	// Name identifies this hub in change events.
	Name string
	// Engine configures every peer engine.
	Engine    engine.Config
	Publisher events.EventPublisher
}

type peerRecord struct {
	id          string
	engine      *engine.Engine
	channel     Channel
	connectedAt time.Time
}

// Hub is the connection registry and capability router. Its peer table is
// owned by one loop shared with all of its engines.
type Hub struct {
	name      string
	cfg       engine.Config
	loop      *loop.Loop
	publisher events.EventPublisher

	// loop-owned
	classes []Class
	peers   map[string]*peerRecord
	closed  bool

	surfaces atomic.Pointer[Surfaces]
}

// New creates a Hub with no peers.
func New(params NewHubParams) *Hub {
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	name := params.Name
	if name == "" {
		name = "hub"
	}
	h := &Hub{
		name:      name,
		cfg:       params.Engine,
		loop:      loop.New(),
		publisher: pub,
		peers:     make(map[string]*peerRecord),
	}
	h.surfaces.Store(emptySurfaces())
	return h
}

// AddClass registers local methods. They are exposed on every current and
// future peer; live peers are re-handshaken so they learn the new names.
func (h *Hub) AddClass(c Class) {
	h.loop.Post(func() {
		if h.closed {
			return
		}
		h.classes = append(h.classes, c)
		methods := c.Methods()
		for _, p := range h.peers {
			p.engine.ExposeMap(methods)
			p.engine.Upgrade(nil)
		}
		slog.Debug(fmt.Sprintf("%s - [%s] class added with %d methods", logPrefix, h.name, len(methods)))
	})
}

// CreateRemote attaches a peer channel. An empty id is replaced by a
// generated one; the id in use is returned. The handshake runs in the
// background and the call surfaces are rebuilt when it resolves.
func (h *Hub) CreateRemote(id string, ch Channel) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	type created struct {
		eng *engine.Engine
		err error
	}
	result := make(chan created, 1)
	posted := h.loop.Post(func() {
		if h.closed {
			result <- created{err: NewHubError(CodeClosed, "hub is closed")}
			return
		}
		if _, exists := h.peers[id]; exists {
			result <- created{err: &HubError{Code: CodePeerExists, Message: fmt.Sprintf("peer %s already connected", id), Peers: []string{id}}}
			return
		}

		eng := engine.New(engine.NewEngineParams{
			Name:        id,
			Config:      h.cfg,
			Transmitter: ch.Transmit,
			Loop:        h.loop,
			OnUpgrade:   func() { h.peerUpgraded(id) },
		})
		for _, c := range h.classes {
			eng.ExposeMap(c.Methods())
		}
		h.peers[id] = &peerRecord{id: id, engine: eng, channel: ch, connectedAt: time.Now().UTC()}
		h.rebuild()
		h.publish(events.ChangeConnected, id, nil)
		result <- created{eng: eng}
	})
	if !posted {
		return "", NewHubError(CodeClosed, "hub is closed")
	}

	c := <-result
	if c.err != nil {
		return "", c.err
	}

	eng := c.eng
	if err := ch.Listen(func(payload []byte) { eng.Receive(payload) }); err != nil {
		h.RemovePeer(id)
		return "", fmt.Errorf("%s - failed to listen on channel for peer %s: %w", logPrefix, id, err)
	}

	eng.Upgrade(func(err error) {
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] handshake with %s failed: %v", logPrefix, h.name, id, err))
		}
	})

	slog.Info(fmt.Sprintf("%s - [%s] peer %s connected", logPrefix, h.name, id))
	return id, nil
}

// RemovePeer shuts down the peer's engine, closes its channel and drops
// it from both call surfaces. Calls still waiting on it fail.
func (h *Hub) RemovePeer(id string) {
	h.loop.Post(func() { h.removePeer(id) })
}

func (h *Hub) removePeer(id string) {
	rec, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	rec.engine.Shutdown()
	go func() {
		if err := rec.channel.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] closing channel of %s: %v", logPrefix, h.name, id, err))
		}
	}()
	h.rebuild()
	h.publish(events.ChangeRemoved, id, nil)
	slog.Info(fmt.Sprintf("%s - [%s] peer %s removed", logPrefix, h.name, id))
}

// Close removes every peer and stops the hub's loop.
func (h *Hub) Close() {
	h.loop.Do(func() {
		if h.closed {
			return
		}
		ids := make([]string, 0, len(h.peers))
		for id := range h.peers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			h.removePeer(id)
		}
		h.closed = true
	})
	// Engine shutdowns were queued above; run them so their pending calls
	// are answered before the loop stops accepting work.
	h.loop.Do(func() {})
	h.loop.Close()
	<-h.loop.Done()
}

// Peers returns the connected peers as of the last rebuild.
func (h *Hub) Peers() []PeerInfo {
	return append([]PeerInfo(nil), h.surfaces.Load().peers...)
}

// Surfaces returns the current immutable routing snapshot.
func (h *Hub) Surfaces() *Surfaces {
	return h.surfaces.Load()
}

// Sync waits until all work queued on the hub's loop so far has run.
func (h *Hub) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !h.loop.Post(func() { close(done) }) {
		return NewHubError(CodeClosed, "hub is closed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) peerUpgraded(id string) {
	rec, ok := h.peers[id]
	if !ok {
		return
	}
	h.rebuild()
	methods, _ := rec.engine.RemoteCapabilities()
	h.publish(events.ChangeUpgraded, id, methods)
}

func (h *Hub) publish(change, peerID string, capabilities []string) {
	event := &events.PeerChangedEvent{
		Hub:          h.name,
		PeerID:       peerID,
		Change:       change,
		Capabilities: capabilities,
		Peers:        len(h.peers),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.publisher.PublishPeerChanged(context.Background(), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] failed to publish %s event for %s: %v", logPrefix, h.name, change, peerID, err))
	}
}
