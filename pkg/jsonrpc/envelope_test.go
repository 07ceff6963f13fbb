package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

const envelopeTestPrefix = "jsonrpc:envelope_test"

func TestDecode_Shapes(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantResponses int
		wantRequests  int
		wantErr       bool
	}{
		{"single request", `{"jsonrpc":"2.0","method":"echo","params":{"a":1},"id":1}`, 0, 1, false},
		{"single notification", `{"jsonrpc":"2.0","method":"tick"}`, 0, 1, false},
		{"single result", `{"jsonrpc":"2.0","id":1,"result":"ok"}`, 1, 0, false},
		{"null result is still a response", `{"jsonrpc":"2.0","id":1,"result":null}`, 1, 0, false},
		{"single error", `{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"x"}}`, 1, 0, false},
		{"mixed array", `[{"jsonrpc":"2.0","id":1,"result":1},{"jsonrpc":"2.0","method":"a","id":2}]`, 1, 1, false},
		{"dual envelope", `{"requests":[{"jsonrpc":"2.0","method":"a","id":3}],"responses":[{"jsonrpc":"2.0","id":1,"result":1},{"jsonrpc":"2.0","id":2,"result":2}]}`, 2, 1, false},
		{"dual envelope with only responses", `{"responses":[{"jsonrpc":"2.0","id":1,"result":1}]}`, 1, 0, false},
		{"non-object array element", `[1,"x"]`, 0, 2, false},
		{"malformed", `{"jsonrpc":`, 0, 0, true},
		{"empty", ``, 0, 0, true},
		{"scalar top level", `42`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses, requests, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error, got nil", envelopeTestPrefix)
				}
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("%s - expected ErrMalformed, got %v", envelopeTestPrefix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
			}
			if len(responses) != tt.wantResponses {
				t.Errorf("%s - responses = %d, want %d", envelopeTestPrefix, len(responses), tt.wantResponses)
			}
			if len(requests) != tt.wantRequests {
				t.Errorf("%s - requests = %d, want %d", envelopeTestPrefix, len(requests), tt.wantRequests)
			}
		})
	}
}

func TestInbound_ShapeChecks(t *testing.T) {
	_, requests, err := Decode([]byte(`[
		{"jsonrpc":"2.0","method":"ok","params":{"x":1},"id":7},
		{"jsonrpc":"2.0","method":5,"id":8},
		{"jsonrpc":"2.0","method":"arr","params":[1,2],"id":9},
		{"jsonrpc":"2.0","method":"note","id":null}
	]`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	if len(requests) != 4 {
		t.Fatalf("%s - requests = %d, want 4", envelopeTestPrefix, len(requests))
	}

	if name, ok := requests[0].MethodName(); !ok || name != "ok" {
		t.Errorf("%s - MethodName() = %q,%v, want ok,true", envelopeTestPrefix, name, ok)
	}
	if !requests[0].ParamsObject() {
		t.Errorf("%s - expected object params", envelopeTestPrefix)
	}
	if id, ok := requests[0].NumericID(); !ok || id != 7 {
		t.Errorf("%s - NumericID() = %d,%v, want 7,true", envelopeTestPrefix, id, ok)
	}
	if _, ok := requests[1].MethodName(); ok {
		t.Errorf("%s - numeric method must not be accepted", envelopeTestPrefix)
	}
	if requests[2].ParamsObject() {
		t.Errorf("%s - array params must not be accepted as object", envelopeTestPrefix)
	}
	if requests[3].HasID() {
		t.Errorf("%s - null id must count as absent", envelopeTestPrefix)
	}
}

func TestInbound_RPCError(t *testing.T) {
	responses, _, err := Decode([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found","data":{"m":"x"}}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	rpcErr := responses[0].RPCError()
	if rpcErr == nil {
		t.Fatalf("%s - expected error object", envelopeTestPrefix)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("%s - Code = %d, want %d", envelopeTestPrefix, rpcErr.Code, CodeMethodNotFound)
	}
	if rpcErr.Message != "Method not found" {
		t.Errorf("%s - Message = %q", envelopeTestPrefix, rpcErr.Message)
	}
}

func TestEncodeBatch(t *testing.T) {
	one := []json.RawMessage{json.RawMessage(`{"a":1}`)}
	if got := string(EncodeBatch(one)); got != `{"a":1}` {
		t.Errorf("%s - single = %s, want bare object", envelopeTestPrefix, got)
	}

	three := []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`), json.RawMessage(`3`)}
	if got := string(EncodeBatch(three)); got != `[1,2,3]` {
		t.Errorf("%s - batch = %s, want [1,2,3]", envelopeTestPrefix, got)
	}
}

func TestEncodeDual(t *testing.T) {
	got := string(EncodeDual(
		[]json.RawMessage{json.RawMessage(`{"method":"a"}`)},
		[]json.RawMessage{json.RawMessage(`{"id":1,"result":1}`)},
	))
	want := `{"requests":[{"method":"a"}],"responses":[{"id":1,"result":1}]}`
	if got != want {
		t.Errorf("%s - EncodeDual() = %s, want %s", envelopeTestPrefix, got, want)
	}

	responses, requests, err := Decode([]byte(got))
	if err != nil {
		t.Fatalf("%s - decode of dual envelope failed: %v", envelopeTestPrefix, err)
	}
	if len(responses) != 1 || len(requests) != 1 {
		t.Errorf("%s - decoded %d responses, %d requests", envelopeTestPrefix, len(responses), len(requests))
	}
}

func TestNewResult_NilEncodesNull(t *testing.T) {
	data, err := NewResult(json.RawMessage(`4`), nil)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	if got := string(data); got != `{"jsonrpc":"2.0","id":4,"result":null}` {
		t.Errorf("%s - NewResult() = %s", envelopeTestPrefix, got)
	}
}

func TestNewRequest_NotificationHasNoID(t *testing.T) {
	data, err := NewRequest("tick", nil, nil)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", envelopeTestPrefix, err)
	}
	if got := string(data); got != `{"jsonrpc":"2.0","method":"tick"}` {
		t.Errorf("%s - NewRequest() = %s", envelopeTestPrefix, got)
	}
}
