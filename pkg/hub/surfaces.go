package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/capabilities-hub/pkg/engine"
)

const surfacesLogPrefix = "hub:surfaces"

// reservedPrefix marks protocol built-ins that are never routed.
const reservedPrefix = "system."

type route struct {
	peerID string
	engine *engine.Engine
}

// Surfaces is an immutable snapshot of both call surfaces. It is replaced
// wholesale whenever a peer connects, upgrades or disconnects.
type Surfaces struct {
	routes map[string][]route
	peers  []PeerInfo
}

func emptySurfaces() *Surfaces {
	return &Surfaces{routes: map[string][]route{}}
}

// Methods lists every routable method name, sorted.
func (s *Surfaces) Methods() []string {
	names := make([]string, 0, len(s.routes))
	for name := range s.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FanOut lists the peers a fan-out call of method reaches.
func (s *Surfaces) FanOut(method string) []string {
	rs := s.routes[method]
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.peerID
	}
	return ids
}

// Owner returns the single peer bound to method on the pass-through
// surface. Methods exposed by more than one peer have no owner.
func (s *Surfaces) Owner(method string) (string, bool) {
	rs := s.routes[method]
	if len(rs) != 1 {
		return "", false
	}
	return rs[0].peerID, true
}

// PassThrough maps each uniquely owned method to its peer.
func (s *Surfaces) PassThrough() map[string]string {
	out := make(map[string]string)
	for name, rs := range s.routes {
		if len(rs) == 1 {
			out[name] = rs[0].peerID
		}
	}
	return out
}

// rebuild recomputes both surfaces from the peer table. Peers whose
// handshake has not confirmed a capability set contribute no routes.
func (h *Hub) rebuild() {
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	next := &Surfaces{
		routes: make(map[string][]route),
		peers:  make([]PeerInfo, 0, len(ids)),
	}
	for _, id := range ids {
		rec := h.peers[id]
		methods, confirmed := rec.engine.RemoteCapabilities()
		info := PeerInfo{ID: id, Confirmed: confirmed, ConnectedAt: rec.connectedAt, Capabilities: []string{}}
		for _, m := range methods {
			if strings.HasPrefix(m, reservedPrefix) {
				continue
			}
			info.Capabilities = append(info.Capabilities, m)
			next.routes[m] = append(next.routes[m], route{peerID: id, engine: rec.engine})
		}
		next.peers = append(next.peers, info)
	}
	h.surfaces.Store(next)
	slog.Debug(fmt.Sprintf("%s - [%s] surfaces rebuilt: %d peers, %d methods", surfacesLogPrefix, h.name, len(next.peers), len(next.routes)))
}

// Call invokes method on every peer exposing it and returns the results
// keyed by peer id. It fails as a whole if any peer fails; the returned
// HubError names that peer and wraps its error.
func (h *Hub) Call(ctx context.Context, method string, params interface{}) (map[string]json.RawMessage, error) {
	routes := h.surfaces.Load().routes[method]
	if len(routes) == 0 {
		return nil, &HubError{Code: CodeMethodNotFound, Message: fmt.Sprintf("no peer exposes %s", method), Method: method}
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make(map[string]json.RawMessage, len(routes))
	for _, r := range routes {
		r := r
		g.Go(func() error {
			res, err := r.engine.CallContext(gctx, method, params)
			if err != nil {
				return &HubError{
					Code:    CodePeerFailed,
					Message: fmt.Sprintf("peer %s failed %s", r.peerID, method),
					Method:  method,
					Peers:   []string{r.peerID},
					Err:     err,
				}
			}
			mu.Lock()
			results[r.peerID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Server invokes method on the one peer that owns it. The peer's result or
// RPC error is returned unchanged.
func (h *Hub) Server(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	routes := h.surfaces.Load().routes[method]
	switch len(routes) {
	case 0:
		return nil, &HubError{Code: CodeMethodNotFound, Message: fmt.Sprintf("no peer exposes %s", method), Method: method}
	case 1:
		return routes[0].engine.CallContext(ctx, method, params)
	default:
		peers := make([]string, len(routes))
		for i, r := range routes {
			peers[i] = r.peerID
		}
		return nil, &HubError{
			Code:    CodeAmbiguousOwner,
			Message: fmt.Sprintf("%s is exposed by %d peers", method, len(routes)),
			Method:  method,
			Peers:   peers,
		}
	}
}
