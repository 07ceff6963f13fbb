// Package jsonrpc defines the JSON-RPC 2.0 wire model shared by connection
// engines: requests, responses, error objects and the three envelope shapes.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the value of the "jsonrpc" member on every outbound message.
const Version = "2.0"

// Standard and synthetic error codes.
const (
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeRemoteTimeout    = -1000
	CodeConnectionClosed = -1001
	CodeHandlerTimeout   = -1002
)

// Built-in method names served by every engine.
const (
	MethodListComponents = "system.listComponents"
	MethodDualBatch      = "system.extension.dual-batch"
)

// Request is an outbound call or notification. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
}

// Response answers a request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object. It doubles as a Go error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRequest builds an encoded request. Pass a nil id for a notification.
func NewRequest(method string, params json.RawMessage, id *uint64) (json.RawMessage, error) {
	return json.Marshal(&Request{JSONRPC: Version, Method: method, Params: params, ID: id})
}

// NewResult builds an encoded success response. A nil result encodes as null.
func NewResult(id json.RawMessage, result json.RawMessage) (json.RawMessage, error) {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(&Response{JSONRPC: Version, ID: id, Result: result})
}

// NewErrorResponse builds an encoded error response.
func NewErrorResponse(id json.RawMessage, rpcErr *Error) (json.RawMessage, error) {
	return json.Marshal(&Response{JSONRPC: Version, ID: id, Error: rpcErr})
}
