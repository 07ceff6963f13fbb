// Package engine implements the per-channel connection engine: request and
// response correlation, exposed-method dispatch, capability handshake,
// adaptive batching and the two timeout domains.
//
// All engine state is owned by a loop.Loop. Public methods post onto that
// loop and return immediately, so they are safe to call from any goroutine.
// Continuations and OnUpgrade hooks run on the loop and must not block.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
	"github.com/morezero/capabilities-hub/pkg/loop"
)

const logPrefix = "engine:engine"

const defaultRemoteTimeout = 60 * time.Second

// Config holds the engine's timing knobs.
type Config struct {
	// RemoteTimeout bounds how long an outgoing call waits for its answer.
	// Zero selects the 60s default; a negative value never expires.
	RemoteTimeout time.Duration
	// HandlerTimeout bounds how long a local handler may take to answer an
	// inbound call. Zero leaves handlers unbounded.
	HandlerTimeout time.Duration
	// RetryInterval arms a retransmit after a failed send. Zero leaves the
	// re-queued items for the next outbound message.
	RetryInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{RemoteTimeout: defaultRemoteTimeout}
}

// Transmitter writes one payload to the channel and reports the outcome
// through done, possibly from another goroutine.
type Transmitter func(payload []byte, done func(err error))

// Continuation receives the answer to an outgoing call. Exactly one of
// result and err is meaningful.
type Continuation func(result json.RawMessage, err *jsonrpc.Error)

// Responder answers an inbound call. err follows jsonrpc.ErrorFrom; when it
// maps to success, result becomes the response result. Only the first
// invocation counts.
type Responder func(err interface{}, result interface{})

// Handler serves an exposed method. params is nil when the caller sent none.
// Handlers run on their own goroutine.
type Handler func(params json.RawMessage, respond Responder)

// Methods maps method names to handlers.
type Methods map[string]Handler

// NewEngineParams holds parameters for New.
type NewEngineParams struct {
	// Name labels log lines.
	Name        string
	Config      Config
	Transmitter Transmitter
	// Loop is shared with other engines (e.g. by a hub). When nil the
	// engine runs its own loop and closes it on Shutdown.
	Loop *loop.Loop
	// OnUpgrade runs on the loop each time the remote capability set is
	// confirmed or replaced.
	OnUpgrade func()
}

type pendingCall struct {
	cont Continuation
	// nil when RemoteTimeout is disabled: the call stays outstanding.
	timer *loop.Timer
}

// Engine is one end of a bidirectional JSON-RPC channel.
type Engine struct {
	name        string
	cfg         Config
	loop        *loop.Loop
	ownLoop     bool
	transmitter Transmitter
	onUpgrade   func()

	active   bool
	serial   uint64
	inbox    map[uint64]*pendingCall
	inflight map[string]*loop.Timer
	exposed  Methods
	remote   map[string]struct{}
	upgraded bool

	outRequests  []json.RawMessage
	outResponses []json.RawMessage
	flushPending bool
	retryTimer   *loop.Timer

	snapshot atomic.Pointer[view]
}

// view is the goroutine-safe copy of state readers outside the loop see.
type view struct {
	active   bool
	serial   uint64
	local    []string
	remote   []string
	upgraded bool
}

// New creates an active engine with the built-in methods exposed.
func New(params NewEngineParams) *Engine {
	cfg := params.Config
	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}

	l := params.Loop
	ownLoop := false
	if l == nil {
		l = loop.New()
		ownLoop = true
	}

	name := params.Name
	if name == "" {
		name = "engine"
	}

	e := &Engine{
		name:        name,
		cfg:         cfg,
		loop:        l,
		ownLoop:     ownLoop,
		transmitter: params.Transmitter,
		onUpgrade:   params.OnUpgrade,
		active:      true,
		inbox:       make(map[uint64]*pendingCall),
		inflight:    make(map[string]*loop.Timer),
		exposed:     make(Methods),
		remote:      make(map[string]struct{}),
	}
	e.exposeBuiltins()
	e.publish()
	return e
}

// Name returns the engine's log label.
func (e *Engine) Name() string {
	return e.name
}

// Active reports whether Shutdown has not yet taken effect.
func (e *Engine) Active() bool {
	return e.snapshot.Load().active
}

// Serial returns the last request id issued.
func (e *Engine) Serial() uint64 {
	return e.snapshot.Load().serial
}

// LocalCapabilities returns the sorted names this engine serves.
func (e *Engine) LocalCapabilities() []string {
	return append([]string(nil), e.snapshot.Load().local...)
}

// RemoteCapabilities returns the sorted names the peer declared and
// whether the handshake has confirmed them.
func (e *Engine) RemoteCapabilities() (methods []string, confirmed bool) {
	v := e.snapshot.Load()
	return append([]string(nil), v.remote...), v.upgraded
}

// Expose registers handler under name, replacing any previous handler.
func (e *Engine) Expose(name string, handler Handler) {
	e.ExposeMap(Methods{name: handler})
}

// ExposeMap registers every handler in methods.
func (e *Engine) ExposeMap(methods Methods) {
	copied := make(Methods, len(methods))
	for name, h := range methods {
		copied[name] = h
	}
	e.loop.Post(func() {
		if !e.active {
			return
		}
		for name, h := range copied {
			if h == nil {
				continue
			}
			e.exposed[name] = h
		}
		e.publish()
	})
}

// Shutdown deactivates the engine. Timers are cleared, queues and tables
// emptied, and every outstanding continuation receives a connection-closed
// error. Later calls to any public method are no-ops.
func (e *Engine) Shutdown() {
	e.loop.Post(e.shutdown)
}

func (e *Engine) shutdown() {
	if !e.active {
		return
	}
	e.active = false

	ids := make([]uint64, 0, len(e.inbox))
	for id, pc := range e.inbox {
		pc.timer.Stop()
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pending := e.inbox

	for _, t := range e.inflight {
		t.Stop()
	}
	e.retryTimer.Stop()
	e.retryTimer = nil

	e.inbox = make(map[uint64]*pendingCall)
	e.inflight = make(map[string]*loop.Timer)
	e.exposed = make(Methods)
	e.remote = make(map[string]struct{})
	e.upgraded = false
	e.outRequests = nil
	e.outResponses = nil

	for _, id := range ids {
		e.deliver(pending[id].cont, nil, jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed"))
	}
	e.publish()

	slog.Info(fmt.Sprintf("%s - [%s] shut down, %d pending calls closed", logPrefix, e.name, len(ids)))

	if e.ownLoop {
		e.loop.Close()
	}
}

// CallContext performs a call and waits for its answer. RPC failures are
// returned as *jsonrpc.Error. Cancelling ctx abandons the wait only; the
// call stays outstanding until answered or timed out.
func (e *Engine) CallContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	type outcome struct {
		result json.RawMessage
		err    *jsonrpc.Error
	}
	ch := make(chan outcome, 1)
	posted := e.loop.Post(func() {
		if !e.active {
			ch <- outcome{err: jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed")}
			return
		}
		e.call(method, params, func(result json.RawMessage, err *jsonrpc.Error) {
			ch <- outcome{result: result, err: err}
		})
	})
	if !posted {
		return nil, jsonrpc.NewError(jsonrpc.CodeConnectionClosed, "connection closed")
	}

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		return o.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver invokes a continuation on a later loop turn, never inside the
// call that registered it.
func (e *Engine) deliver(cont Continuation, result json.RawMessage, err *jsonrpc.Error) {
	if cont == nil {
		return
	}
	e.loop.Post(func() { cont(result, err) })
}

func (e *Engine) publish() {
	local := make([]string, 0, len(e.exposed))
	for name := range e.exposed {
		local = append(local, name)
	}
	sort.Strings(local)

	remote := make([]string, 0, len(e.remote))
	for name := range e.remote {
		remote = append(remote, name)
	}
	sort.Strings(remote)

	e.snapshot.Store(&view{
		active:   e.active,
		serial:   e.serial,
		local:    local,
		remote:   remote,
		upgraded: e.upgraded,
	})
}
