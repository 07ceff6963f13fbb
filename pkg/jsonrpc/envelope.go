package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const logPrefix = "jsonrpc:envelope"

// ErrMalformed is returned by Decode when the payload is not valid JSON or
// its top level is neither an object nor an array.
var ErrMalformed = errors.New("malformed payload")

// Inbound is a decoded message whose members are kept raw so that shape
// checks (method type, params type, id presence) can be made per message.
type Inbound struct {
	JSONRPC json.RawMessage `json:"jsonrpc,omitempty"`
	Method  json.RawMessage `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	shapeErr bool
}

// IsResponse reports whether the message carries a result or an error member.
func (m *Inbound) IsResponse() bool {
	return len(m.Result) > 0 || len(m.Error) > 0
}

// HasID reports whether the message carries a non-null id.
func (m *Inbound) HasID() bool {
	return len(m.ID) > 0 && !isNull(m.ID)
}

// MethodName returns the method when it is a JSON string.
func (m *Inbound) MethodName() (string, bool) {
	if m.shapeErr || len(m.Method) == 0 {
		return "", false
	}
	var name string
	if err := json.Unmarshal(m.Method, &name); err != nil {
		return "", false
	}
	return name, true
}

// ParamsObject reports whether params are absent, null, or a JSON object.
func (m *Inbound) ParamsObject() bool {
	if len(m.Params) == 0 || isNull(m.Params) {
		return true
	}
	return firstByte(m.Params) == '{'
}

// NumericID returns the id as an unsigned serial, as issued by an engine.
func (m *Inbound) NumericID() (uint64, bool) {
	if !m.HasID() {
		return 0, false
	}
	n, err := strconv.ParseUint(string(bytes.TrimSpace(m.ID)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RPCError decodes the error member. Unparseable error objects become an
// internal error so the caller still gets a failure.
func (m *Inbound) RPCError() *Error {
	if len(m.Error) == 0 || isNull(m.Error) {
		return nil
	}
	var e Error
	if err := json.Unmarshal(m.Error, &e); err != nil {
		return &Error{Code: CodeInternalError, Message: "error", Data: m.Error}
	}
	return &e
}

// Decode splits a wire payload into inbound responses and inbound requests.
// Accepted envelopes: a bare message, a bare array of messages, or the
// combined {"requests":[...],"responses":[...]} form.
func Decode(raw []byte) (responses, requests []*Inbound, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, nil, ErrMalformed
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrMalformed, err)
		}
		responses, requests = classify(items)
		return responses, requests, nil
	case '{':
		var members map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &members); err != nil {
			return nil, nil, fmt.Errorf("%s - %w: %v", logPrefix, ErrMalformed, err)
		}
		if isDual(members) {
			var reqItems, respItems []json.RawMessage
			if r, ok := members["requests"]; ok && !isNull(r) {
				if err := json.Unmarshal(r, &reqItems); err != nil {
					return nil, nil, fmt.Errorf("%s - %w: requests: %v", logPrefix, ErrMalformed, err)
				}
			}
			if r, ok := members["responses"]; ok && !isNull(r) {
				if err := json.Unmarshal(r, &respItems); err != nil {
					return nil, nil, fmt.Errorf("%s - %w: responses: %v", logPrefix, ErrMalformed, err)
				}
			}
			for _, item := range respItems {
				if m := decodeOne(item); m.IsResponse() {
					responses = append(responses, m)
				}
			}
			for _, item := range reqItems {
				if m := decodeOne(item); !m.IsResponse() {
					requests = append(requests, m)
				}
			}
			return responses, requests, nil
		}
		responses, requests = classify([]json.RawMessage{trimmed})
		return responses, requests, nil
	default:
		return nil, nil, ErrMalformed
	}
}

// EncodeBatch frames homogeneous messages: one item is sent bare, several
// as a JSON array.
func EncodeBatch(items []json.RawMessage) []byte {
	if len(items) == 1 {
		return append([]byte(nil), items[0]...)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// EncodeDual frames both queues into the combined envelope.
func EncodeDual(requests, responses []json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"requests":`)
	writeArray(&buf, requests)
	buf.WriteString(`,"responses":`)
	writeArray(&buf, responses)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeArray(buf *bytes.Buffer, items []json.RawMessage) {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
}

func classify(items []json.RawMessage) (responses, requests []*Inbound) {
	for _, item := range items {
		m := decodeOne(item)
		if m.IsResponse() {
			responses = append(responses, m)
		} else {
			requests = append(requests, m)
		}
	}
	return responses, requests
}

// decodeOne never fails: a non-object element becomes a request with no
// method and no id, which dispatch drops silently.
func decodeOne(item json.RawMessage) *Inbound {
	var m Inbound
	if firstByte(item) != '{' {
		m.shapeErr = true
		return &m
	}
	if err := json.Unmarshal(item, &m); err != nil {
		return &Inbound{shapeErr: true}
	}
	return &m
}

func isDual(members map[string]json.RawMessage) bool {
	_, hasReq := members["requests"]
	_, hasResp := members["responses"]
	if !hasReq && !hasResp {
		return false
	}
	_, hasMethod := members["method"]
	_, hasResult := members["result"]
	_, hasError := members["error"]
	return !hasMethod && !hasResult && !hasError
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
