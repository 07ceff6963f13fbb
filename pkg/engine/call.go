package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const callLogPrefix = "engine:call"

// Call sends method to the peer. With a continuation the call gets a fresh
// id and the continuation receives the answer, a synthetic remote timeout,
// or a local method-not-found when the confirmed remote capability set
// lacks method. Without a continuation it behaves like Notify.
func (e *Engine) Call(method string, params interface{}, cont Continuation) {
	e.loop.Post(func() { e.call(method, params, cont) })
}

// Notify sends an id-less request. It is never answered.
func (e *Engine) Notify(method string, params interface{}) {
	e.Call(method, params, nil)
}

func (e *Engine) call(method string, params interface{}, cont Continuation) {
	if !e.active {
		return
	}

	if e.upgraded {
		if _, ok := e.remote[method]; !ok {
			slog.Debug(fmt.Sprintf("%s - [%s] peer does not serve %s, not sending", callLogPrefix, e.name, method))
			e.deliver(cont, nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found"))
			return
		}
	}

	raw, err := encodeValue(params)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - [%s] cannot encode params for %s: %v", callLogPrefix, e.name, method, err))
		e.deliver(cont, nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
		return
	}

	if cont == nil {
		msg, err := jsonrpc.NewRequest(method, raw, nil)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] cannot encode notification %s: %v", callLogPrefix, e.name, method, err))
			return
		}
		e.enqueueRequest(msg)
		return
	}

	e.serial++
	id := e.serial
	msg, err := jsonrpc.NewRequest(method, raw, &id)
	if err != nil {
		e.deliver(cont, nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error()))
		e.publish()
		return
	}

	pc := &pendingCall{cont: cont}
	e.inbox[id] = pc
	e.enqueueRequest(msg)
	if e.cfg.RemoteTimeout > 0 {
		pc.timer = e.loop.AfterFunc(e.cfg.RemoteTimeout, func() {
			slog.Debug(fmt.Sprintf("%s - [%s] call %d (%s) timed out", callLogPrefix, e.name, id, method))
			e.resolve(id, nil, jsonrpc.NewError(jsonrpc.CodeRemoteTimeout, "remote timeout"))
		})
	}
	e.publish()
}

// handleResponse matches an inbound response to its pending call. Unknown,
// duplicate and late ids are ignored.
func (e *Engine) handleResponse(m *jsonrpc.Inbound) {
	id, ok := m.NumericID()
	if !ok {
		return
	}
	if rpcErr := m.RPCError(); rpcErr != nil {
		e.resolve(id, nil, rpcErr)
		return
	}
	e.resolve(id, m.Result, nil)
}

// resolve is the single completion path for real and synthetic answers.
// Removing the inbox entry makes the first answer win.
func (e *Engine) resolve(id uint64, result json.RawMessage, rpcErr *jsonrpc.Error) {
	pc, ok := e.inbox[id]
	if !ok {
		return
	}
	delete(e.inbox, id)
	pc.timer.Stop()
	e.deliver(pc.cont, result, rpcErr)
}

func encodeValue(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid JSON value")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid JSON value")
		}
		return json.RawMessage(p), nil
	}
	return json.Marshal(v)
}
