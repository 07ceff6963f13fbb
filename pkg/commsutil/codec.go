package commsutil

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrInvalidParams is returned by DecodeParams for bodies that are neither
// empty nor a single JSON value.
var ErrInvalidParams = errors.New("commsutil:codec - params are not valid JSON")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DecodeParams turns a request body into call params. An empty or
// whitespace-only body means no params.
func DecodeParams(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, ErrInvalidParams
	}
	return json.RawMessage(trimmed), nil
}
