package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
	"github.com/morezero/capabilities-hub/pkg/loop"
)

const dispatchLogPrefix = "engine:dispatch"

// Receive feeds one inbound payload to the engine. raw may be []byte,
// string, json.RawMessage or an already-parsed value. Malformed payloads
// are dropped.
func (e *Engine) Receive(raw interface{}) {
	data, err := payloadBytes(raw)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - [%s] dropping unencodable payload: %v", dispatchLogPrefix, e.name, err))
		return
	}
	e.loop.Post(func() { e.receive(data) })
}

func (e *Engine) receive(data []byte) {
	if !e.active {
		return
	}
	responses, requests, err := jsonrpc.Decode(data)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - [%s] dropping malformed payload: %v", dispatchLogPrefix, e.name, err))
		return
	}
	for _, m := range responses {
		e.handleResponse(m)
	}
	for _, m := range requests {
		e.dispatch(m)
	}
}

// dispatch routes one inbound request. Shape failures are answered only
// when the request carries an id.
func (e *Engine) dispatch(m *jsonrpc.Inbound) {
	hasID := m.HasID()
	id := json.RawMessage(bytes.TrimSpace(m.ID))

	method, ok := m.MethodName()
	if !ok {
		if hasID {
			e.reply(id, nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "Invalid Request"))
		}
		return
	}

	h, ok := e.exposed[method]
	if !ok {
		slog.Debug(fmt.Sprintf("%s - [%s] unknown method %s", dispatchLogPrefix, e.name, method))
		if hasID {
			e.reply(id, nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found"))
		}
		return
	}

	if !m.ParamsObject() {
		if hasID {
			e.reply(id, nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params"))
		}
		return
	}
	var params json.RawMessage
	if len(m.Params) > 0 && string(bytes.TrimSpace(m.Params)) != "null" {
		params = m.Params
	}

	if !hasID {
		go e.invoke(method, h, params, func(interface{}, interface{}) {})
		return
	}

	key := string(id)
	if _, busy := e.inflight[key]; busy {
		slog.Warn(fmt.Sprintf("%s - [%s] duplicate in-flight id %s for %s, ignoring", dispatchLogPrefix, e.name, key, method))
		return
	}

	var timer *loop.Timer
	if e.cfg.HandlerTimeout > 0 {
		timer = e.loop.AfterFunc(e.cfg.HandlerTimeout, func() {
			if _, ok := e.inflight[key]; !ok {
				return
			}
			delete(e.inflight, key)
			slog.Warn(fmt.Sprintf("%s - [%s] handler %s exceeded %s", dispatchLogPrefix, e.name, method, e.cfg.HandlerTimeout))
			e.reply(id, nil, jsonrpc.NewError(jsonrpc.CodeHandlerTimeout, "handler timeout"))
		})
	}
	e.inflight[key] = timer

	respond := func(errVal interface{}, result interface{}) {
		e.loop.Post(func() { e.answer(key, id, errVal, result) })
	}
	go e.invoke(method, h, params, respond)
}

// answer records the handler's single answer. A missing entry means the
// call was already answered, timed out, or the engine shut down.
func (e *Engine) answer(key string, id json.RawMessage, errVal interface{}, result interface{}) {
	if !e.active {
		return
	}
	timer, ok := e.inflight[key]
	if !ok {
		slog.Debug(fmt.Sprintf("%s - [%s] dropping late answer for id %s", dispatchLogPrefix, e.name, key))
		return
	}
	delete(e.inflight, key)
	timer.Stop()

	if rpcErr := jsonrpc.ErrorFrom(errVal); rpcErr != nil {
		e.reply(id, nil, rpcErr)
		return
	}
	raw, err := encodeValue(result)
	if err != nil {
		e.reply(id, nil, jsonrpc.NewError(jsonrpc.CodeInternalError, fmt.Sprintf("cannot encode result: %v", err)))
		return
	}
	e.reply(id, raw, nil)
}

func (e *Engine) invoke(method string, h Handler, params json.RawMessage, respond Responder) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - [%s] handler %s panicked: %v", dispatchLogPrefix, e.name, method, r))
			respond(jsonrpc.NewError(jsonrpc.CodeInternalError, fmt.Sprintf("handler panic: %v", r)), nil)
		}
	}()
	h(params, respond)
}

func (e *Engine) reply(id json.RawMessage, result json.RawMessage, rpcErr *jsonrpc.Error) {
	var (
		msg json.RawMessage
		err error
	)
	if rpcErr != nil {
		msg, err = jsonrpc.NewErrorResponse(id, rpcErr)
		if err != nil {
			// Data that cannot be encoded is dropped, the code survives.
			msg, err = jsonrpc.NewErrorResponse(id, &jsonrpc.Error{Code: rpcErr.Code, Message: rpcErr.Message})
		}
	} else {
		msg, err = jsonrpc.NewResult(id, result)
	}
	if err != nil {
		slog.Error(fmt.Sprintf("%s - [%s] cannot encode response for id %s: %v", dispatchLogPrefix, e.name, id, err))
		return
	}
	e.enqueueResponse(msg)
}

func payloadBytes(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	}
	return json.Marshal(raw)
}
