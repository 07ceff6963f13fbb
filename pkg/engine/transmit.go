package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const transmitLogPrefix = "engine:transmit"

// Transmit flushes the outgoing queues through override, or through the
// engine's transmitter when override is nil. Items from a send that
// reports failure are queued again.
func (e *Engine) Transmit(override Transmitter) {
	e.loop.Post(func() { e.transmit(override) })
}

func (e *Engine) enqueueRequest(msg json.RawMessage) {
	e.outRequests = append(e.outRequests, msg)
	e.scheduleFlush()
}

func (e *Engine) enqueueResponse(msg json.RawMessage) {
	e.outResponses = append(e.outResponses, msg)
	e.scheduleFlush()
}

// scheduleFlush coalesces everything queued during the current loop turn
// into one transmit on the next turn.
func (e *Engine) scheduleFlush() {
	if e.flushPending {
		return
	}
	e.flushPending = true
	e.loop.Post(func() {
		e.flushPending = false
		e.transmit(nil)
	})
}

func (e *Engine) transmit(override Transmitter) {
	if !e.active {
		return
	}
	t := override
	if t == nil {
		t = e.transmitter
	}
	if t == nil {
		if len(e.outRequests)+len(e.outResponses) > 0 {
			slog.Debug(fmt.Sprintf("%s - [%s] no transmitter, %d messages held", transmitLogPrefix, e.name, len(e.outRequests)+len(e.outResponses)))
		}
		return
	}

	if len(e.outRequests) > 0 && len(e.outResponses) > 0 && e.dualBatchConfirmed() {
		requests, responses := e.outRequests, e.outResponses
		e.outRequests, e.outResponses = nil, nil
		e.send(t, jsonrpc.EncodeDual(requests, responses), requests, responses)
		return
	}

	if len(e.outResponses) > 0 {
		responses := e.outResponses
		e.outResponses = nil
		e.send(t, jsonrpc.EncodeBatch(responses), nil, responses)
	}
	if len(e.outRequests) > 0 {
		requests := e.outRequests
		e.outRequests = nil
		e.send(t, jsonrpc.EncodeBatch(requests), requests, nil)
	}
}

func (e *Engine) send(t Transmitter, payload []byte, requests, responses []json.RawMessage) {
	t(payload, func(err error) {
		if err == nil {
			return
		}
		e.loop.Post(func() { e.requeue(requests, responses, err) })
	})
}

// requeue appends the items of a failed send. Messages queued since the
// send may now precede them.
func (e *Engine) requeue(requests, responses []json.RawMessage, err error) {
	if !e.active {
		return
	}
	slog.Warn(fmt.Sprintf("%s - [%s] send failed, re-queueing %d requests and %d responses: %v",
		transmitLogPrefix, e.name, len(requests), len(responses), err))
	e.outRequests = append(e.outRequests, requests...)
	e.outResponses = append(e.outResponses, responses...)

	if e.cfg.RetryInterval > 0 && e.retryTimer == nil {
		e.retryTimer = e.loop.AfterFunc(e.cfg.RetryInterval, func() {
			e.retryTimer = nil
			e.transmit(nil)
		})
	}
}

func (e *Engine) dualBatchConfirmed() bool {
	if !e.upgraded {
		return false
	}
	_, ok := e.remote[jsonrpc.MethodDualBatch]
	return ok
}
