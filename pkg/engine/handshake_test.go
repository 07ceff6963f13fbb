package engine

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const handshakeTestPrefix = "engine:handshake_test"

func TestUpgrade_SymmetricHandshake(t *testing.T) {
	upgrades := make(chan string, 4)
	var a, b *Engine
	a = New(NewEngineParams{Name: "a", OnUpgrade: func() { upgrades <- "a" }, Transmitter: func(p []byte, done func(error)) {
		b.Receive(p)
		done(nil)
	}})
	b = New(NewEngineParams{Name: "b", OnUpgrade: func() { upgrades <- "b" }, Transmitter: func(p []byte, done func(error)) {
		a.Receive(p)
		done(nil)
	}})
	defer a.Shutdown()
	defer b.Shutdown()

	a.Expose("alpha", echo)
	b.Expose("beta", echo)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.UpgradeContext(ctx); err != nil {
		t.Fatalf("%s - upgrade failed: %v", handshakeTestPrefix, err)
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case who := <-upgrades:
			seen[who] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("%s - only %v saw the handshake", handshakeTestPrefix, seen)
		}
	}

	aRemote, aConfirmed := a.RemoteCapabilities()
	bRemote, bConfirmed := b.RemoteCapabilities()
	if !aConfirmed || !bConfirmed {
		t.Fatalf("%s - confirmed a=%v b=%v, want both", handshakeTestPrefix, aConfirmed, bConfirmed)
	}
	if !contains(aRemote, "beta") || contains(aRemote, "alpha") {
		t.Errorf("%s - a's remote set = %v", handshakeTestPrefix, aRemote)
	}
	if !contains(bRemote, "alpha") || contains(bRemote, "beta") {
		t.Errorf("%s - b's remote set = %v", handshakeTestPrefix, bRemote)
	}
	if !contains(aRemote, jsonrpc.MethodDualBatch) {
		t.Errorf("%s - dual-batch not advertised: %v", handshakeTestPrefix, aRemote)
	}
}

func TestUpgrade_GatesUnknownMethods(t *testing.T) {
	a, b := pair(t, Config{}, Config{})
	b.Expose("known", echo)

	// Before the handshake an unknown method still goes on the wire and
	// the peer answers method-not-found.
	cont, ch := capture()
	a.Call("unknown", nil, cont)
	o := await(t, ch)
	if o.err == nil || o.err.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("%s - pre-handshake err = %+v", handshakeTestPrefix, o.err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.UpgradeContext(ctx); err != nil {
		t.Fatalf("%s - upgrade failed: %v", handshakeTestPrefix, err)
	}

	serialBefore := a.Serial()
	a.Call("unknown", nil, cont)
	o = await(t, ch)
	if o.err == nil || o.err.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("%s - post-handshake err = %+v", handshakeTestPrefix, o.err)
	}
	if a.Serial() != serialBefore {
		t.Errorf("%s - gated call consumed an id", handshakeTestPrefix)
	}

	got, err := a.CallContext(ctx, "known", map[string]bool{"ok": true})
	if err != nil || string(got) != `{"ok":true}` {
		t.Errorf("%s - known call = %s, %v", handshakeTestPrefix, got, err)
	}
}

func TestUpgrade_GatedCallSendsNothing(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, Config{}, rec.transmit)
	e.loop.Do(func() { e.setRemote(map[string]struct{}{"only": {}}) })

	cont, ch := capture()
	e.Call("other", nil, cont)
	e.Notify("other", nil)
	if o := await(t, ch); o.err == nil || o.err.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("%s - err = %+v", handshakeTestPrefix, o.err)
	}
	rec.none(t, 20*time.Millisecond)
}

func TestUpgrade_FailedHandshake(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, Config{}, rec.transmit)

	errs := make(chan error, 1)
	e.Upgrade(func(err error) { errs <- err })
	rec.next(t)
	e.Receive(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`)

	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("%s - expected handshake error", handshakeTestPrefix)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s - handshake never completed", handshakeTestPrefix)
	}
	if _, confirmed := e.RemoteCapabilities(); confirmed {
		t.Errorf("%s - failed handshake must leave the set unconfirmed", handshakeTestPrefix)
	}
}

func TestServeListComponents_IgnoresNonObjectParams(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, Config{}, rec.transmit)

	e.Receive(`{"jsonrpc":"2.0","method":"system.listComponents","id":1}`)
	msgs := decodeMessages(t, rec.next(t))

	var local map[string]bool
	if err := json.Unmarshal(msgs[0]["result"], &local); err != nil {
		t.Fatalf("%s - result is not a capability object: %s", handshakeTestPrefix, msgs[0]["result"])
	}
	if !local[jsonrpc.MethodListComponents] {
		t.Errorf("%s - local set missing built-in: %v", handshakeTestPrefix, local)
	}
	if _, confirmed := e.RemoteCapabilities(); confirmed {
		t.Errorf("%s - absent params must not confirm a remote set", handshakeTestPrefix)
	}
}

func TestDualBatchBuiltin(t *testing.T) {
	rec := newRecorder()
	e := newTestEngine(t, Config{}, rec.transmit)

	e.Receive(`{"jsonrpc":"2.0","method":"system.extension.dual-batch","id":1}`)
	msgs := decodeMessages(t, rec.next(t))
	if string(msgs[0]["result"]) != "true" {
		t.Errorf("%s - result = %s, want true", handshakeTestPrefix, msgs[0]["result"])
	}
}

func contains(list []string, name string) bool {
	i := sort.SearchStrings(list, name)
	return i < len(list) && list[i] == name
}
