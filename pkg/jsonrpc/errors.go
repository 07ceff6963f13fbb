package jsonrpc

import (
	"encoding/json"
	"errors"
	"reflect"
)

// ErrorFrom maps whatever a handler passed as its error argument onto the
// wire error object. A nil return means the handler succeeded.
//
//   - nil, false, numeric zero, "" : success
//   - number n                      : {code:n, message:"error"}
//   - true                          : {code:-1, message:"error"}
//   - string s                      : {code:-1, message:s}
//   - *Error / Error, or an object with code and message : passed through
//   - error                         : wrapped *Error, else {code:-1, message:err.Error()}
//   - anything else                 : {code:-2, message:"error", data:v}
func ErrorFrom(v interface{}) *Error {
	switch e := v.(type) {
	case nil:
		return nil
	case *Error:
		return e
	case Error:
		return &e
	case bool:
		if !e {
			return nil
		}
		return &Error{Code: -1, Message: "error"}
	case string:
		if e == "" {
			return nil
		}
		return &Error{Code: -1, Message: e}
	case error:
		var rpcErr *Error
		if errors.As(e, &rpcErr) {
			return rpcErr
		}
		return &Error{Code: -1, Message: e.Error()}
	case map[string]interface{}:
		if passed := errorFromMembers(e); passed != nil {
			return passed
		}
		return &Error{Code: -2, Message: "error", Data: v}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() == 0 {
			return nil
		}
		return &Error{Code: int(rv.Int()), Message: "error"}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() == 0 {
			return nil
		}
		return &Error{Code: int(rv.Uint()), Message: "error"}
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == 0 || f != f {
			return nil
		}
		return &Error{Code: int(f), Message: "error"}
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
	}

	// Structs and other objects pass through when they serialize with both
	// a numeric code and a string message.
	if data, err := json.Marshal(v); err == nil && firstByte(data) == '{' {
		var members map[string]interface{}
		if json.Unmarshal(data, &members) == nil {
			if passed := errorFromMembers(members); passed != nil {
				return passed
			}
		}
	}
	return &Error{Code: -2, Message: "error", Data: v}
}

func errorFromMembers(m map[string]interface{}) *Error {
	code, hasCode := m["code"].(float64)
	if !hasCode {
		if i, ok := m["code"].(int); ok {
			code, hasCode = float64(i), true
		}
	}
	message, hasMessage := m["message"].(string)
	if !hasCode || !hasMessage {
		return nil
	}
	return &Error{Code: int(code), Message: message, Data: m["data"]}
}
