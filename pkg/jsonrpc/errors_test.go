package jsonrpc

import (
	"errors"
	"fmt"
	"testing"
)

const errorsTestPrefix = "jsonrpc:errors_test"

type appError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type opaque struct {
	Reason string `json:"reason"`
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name        string
		input       interface{}
		wantNil     bool
		wantCode    int
		wantMessage string
		wantData    bool
	}{
		{name: "nil", input: nil, wantNil: true},
		{name: "false", input: false, wantNil: true},
		{name: "zero", input: 0, wantNil: true},
		{name: "empty string", input: "", wantNil: true},
		{name: "int", input: 42, wantCode: 42, wantMessage: "error"},
		{name: "float", input: float64(-7), wantCode: -7, wantMessage: "error"},
		{name: "true", input: true, wantCode: -1, wantMessage: "error"},
		{name: "string", input: "disk full", wantCode: -1, wantMessage: "disk full"},
		{name: "rpc error", input: NewError(-32000, "custom"), wantCode: -32000, wantMessage: "custom"},
		{name: "map with code and message", input: map[string]interface{}{"code": float64(12), "message": "bad"}, wantCode: 12, wantMessage: "bad"},
		{name: "struct with code and message", input: appError{Code: 9, Message: "nine"}, wantCode: 9, wantMessage: "nine"},
		{name: "go error", input: errors.New("boom"), wantCode: -1, wantMessage: "boom"},
		{name: "wrapped rpc error", input: fmt.Errorf("ctx: %w", NewError(5, "five")), wantCode: 5, wantMessage: "five"},
		{name: "map without message", input: map[string]interface{}{"code": float64(1)}, wantCode: -2, wantMessage: "error", wantData: true},
		{name: "opaque struct", input: opaque{Reason: "x"}, wantCode: -2, wantMessage: "error", wantData: true},
		{name: "slice", input: []int{1}, wantCode: -2, wantMessage: "error", wantData: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorFrom(tt.input)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("%s - ErrorFrom(%v) = %+v, want nil", errorsTestPrefix, tt.input, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("%s - ErrorFrom(%v) = nil, want error", errorsTestPrefix, tt.input)
			}
			if got.Code != tt.wantCode {
				t.Errorf("%s - Code = %d, want %d", errorsTestPrefix, got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("%s - Message = %q, want %q", errorsTestPrefix, got.Message, tt.wantMessage)
			}
			if tt.wantData && got.Data == nil {
				t.Errorf("%s - expected Data to carry the original value", errorsTestPrefix)
			}
		})
	}
}
