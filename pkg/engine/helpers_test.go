package engine

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const helpersTestPrefix = "engine:helpers_test"

var errSendFailed = errors.New("send failed")

// recorder is a Transmitter that captures payloads and can be told to fail.
type recorder struct {
	mu       sync.Mutex
	failures int
	payloads chan []byte
}

func newRecorder() *recorder {
	return &recorder{payloads: make(chan []byte, 64)}
}

func (r *recorder) failNext(n int) {
	r.mu.Lock()
	r.failures = n
	r.mu.Unlock()
}

func (r *recorder) transmit(payload []byte, done func(error)) {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()

	r.payloads <- payload
	if fail {
		done(errSendFailed)
		return
	}
	done(nil)
}

func (r *recorder) next(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-r.payloads:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - no payload transmitted", helpersTestPrefix)
		return nil
	}
}

func (r *recorder) drain() {
	for {
		select {
		case <-r.payloads:
		default:
			return
		}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-r.payloads:
		t.Fatalf("%s - unexpected payload: %s", helpersTestPrefix, p)
	case <-time.After(wait):
	}
}

type outcome struct {
	result json.RawMessage
	err    *jsonrpc.Error
}

// capture returns a continuation and the channel it reports on.
func capture() (Continuation, chan outcome) {
	ch := make(chan outcome, 8)
	return func(result json.RawMessage, err *jsonrpc.Error) {
		ch <- outcome{result: result, err: err}
	}, ch
}

func await(t *testing.T, ch chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - continuation never ran", helpersTestPrefix)
		return outcome{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s - condition not met in time", helpersTestPrefix)
}

func newTestEngine(t *testing.T, cfg Config, tr Transmitter) *Engine {
	t.Helper()
	e := New(NewEngineParams{Name: t.Name(), Config: cfg, Transmitter: tr})
	t.Cleanup(e.Shutdown)
	return e
}

// pair wires two engines back to back.
func pair(t *testing.T, cfgA, cfgB Config) (*Engine, *Engine) {
	t.Helper()
	var a, b *Engine
	a = New(NewEngineParams{Name: "a", Config: cfgA, Transmitter: func(p []byte, done func(error)) {
		b.Receive(p)
		done(nil)
	}})
	b = New(NewEngineParams{Name: "b", Config: cfgB, Transmitter: func(p []byte, done func(error)) {
		a.Receive(p)
		done(nil)
	}})
	t.Cleanup(func() {
		a.Shutdown()
		b.Shutdown()
	})
	return a, b
}

// decodeMessages flattens a payload into its individual messages.
func decodeMessages(t *testing.T, payload []byte) []map[string]json.RawMessage {
	t.Helper()
	var items []json.RawMessage
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &items); err != nil {
			t.Fatalf("%s - bad batch: %v", helpersTestPrefix, err)
		}
	} else {
		items = []json.RawMessage{payload}
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(item, &m); err != nil {
			t.Fatalf("%s - bad message %s: %v", helpersTestPrefix, item, err)
		}
		out = append(out, m)
	}
	return out
}

func echo(params json.RawMessage, respond Responder) {
	respond(nil, params)
}
