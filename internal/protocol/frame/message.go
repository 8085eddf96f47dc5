package frame

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Message is one decoded protocol payload: a string-keyed map whose values
// are strings, booleans, integers, byte strings, lists or nested maps.
type Message map[string]any

// MsgTypeKey is the key every handshake and session message carries.
const MsgTypeKey = "MsgType"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("frame: CBOR encoder initialization failed: " + err.Error())
	}

	// Untyped maps decode as map[string]any so nested payloads look the same
	// as the top-level Message.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("frame: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a message to its CBOR payload.
func Encode(msg Message) ([]byte, error) {
	return encMode.Marshal(map[string]any(msg))
}

// Decode parses a CBOR payload. The payload must hold a map.
func Decode(data []byte) (Message, error) {
	var out map[string]any
	if err := decMode.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decode payload: not a map")
	}
	return Message(out), nil
}

// Type returns the MsgType field, or "" when absent or not a string.
func (m Message) Type() string {
	return m.String(MsgTypeKey)
}

// Has reports whether key is present.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value at key as a string, or "".
func (m Message) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Bool returns the value at key as a bool, or false.
func (m Message) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// Uint returns the value at key as an unsigned integer. Negative numbers and
// non-numeric values yield 0.
func (m Message) Uint(key string) uint64 {
	switch v := m[key].(type) {
	case uint64:
		return v
	case int64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case uint32:
		return uint64(v)
	case int:
		if v < 0 {
			return 0
		}
		return uint64(v)
	case float64:
		if v < 0 {
			return 0
		}
		return uint64(v)
	default:
		return 0
	}
}

// Int returns the value at key as a signed integer, or 0.
func (m Message) Int(key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	case uint32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Map returns the nested map at key, or nil.
func (m Message) Map(key string) Message {
	switch v := m[key].(type) {
	case map[string]any:
		return Message(v)
	case Message:
		return v
	default:
		return nil
	}
}
