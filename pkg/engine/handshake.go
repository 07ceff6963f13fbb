package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const handshakeLogPrefix = "engine:handshake"

// Upgrade runs the capability handshake: the local capability set goes out
// as params of system.listComponents and the reply becomes the confirmed
// remote set. done, if non-nil, runs on the loop with the outcome.
func (e *Engine) Upgrade(done func(err error)) {
	e.loop.Post(func() {
		if !e.active {
			return
		}
		e.call(jsonrpc.MethodListComponents, e.localCapabilities(), func(result json.RawMessage, rpcErr *jsonrpc.Error) {
			if rpcErr != nil {
				slog.Warn(fmt.Sprintf("%s - [%s] handshake failed: %v", handshakeLogPrefix, e.name, rpcErr))
				if done != nil {
					done(rpcErr)
				}
				return
			}
			set, ok := decodeCapabilities(result)
			if !ok {
				slog.Warn(fmt.Sprintf("%s - [%s] handshake reply is not a capability set", handshakeLogPrefix, e.name))
				if done != nil {
					done(jsonrpc.NewError(jsonrpc.CodeInternalError, "malformed capability set"))
				}
				return
			}
			if e.active {
				e.setRemote(set)
			}
			if done != nil {
				done(nil)
			}
		})
	})
}

// UpgradeContext runs Upgrade and waits for it.
func (e *Engine) UpgradeContext(ctx context.Context) error {
	ch := make(chan error, 1)
	e.Upgrade(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) exposeBuiltins() {
	e.exposed[jsonrpc.MethodListComponents] = e.serveListComponents
	e.exposed[jsonrpc.MethodDualBatch] = func(_ json.RawMessage, respond Responder) {
		respond(nil, true)
	}
}

// serveListComponents is the passive half of the handshake: the caller's
// capability set is recorded as ours for it, and ours is returned.
func (e *Engine) serveListComponents(params json.RawMessage, respond Responder) {
	e.loop.Post(func() {
		if !e.active {
			return
		}
		if set, ok := decodeCapabilities(params); ok {
			e.setRemote(set)
		}
		respond(nil, e.localCapabilities())
	})
}

func (e *Engine) setRemote(set map[string]struct{}) {
	e.remote = set
	e.upgraded = true
	e.publish()
	slog.Debug(fmt.Sprintf("%s - [%s] remote capability set confirmed (%d methods)", handshakeLogPrefix, e.name, len(set)))
	if e.onUpgrade != nil {
		e.onUpgrade()
	}
}

// localCapabilities renders the served names as a {"name":true} object.
func (e *Engine) localCapabilities() map[string]bool {
	set := make(map[string]bool, len(e.exposed))
	for name := range e.exposed {
		set[name] = true
	}
	return set
}

func decodeCapabilities(raw json.RawMessage) (map[string]struct{}, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return nil, false
	}
	set := make(map[string]struct{}, len(members))
	for name := range members {
		set[name] = struct{}{}
	}
	return set, true
}
