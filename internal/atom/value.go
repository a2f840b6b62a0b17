// Package atom defines the PacketFlow unit-of-work type (Atom), its
// canonical registry key, the tagged Value payload representation, and the
// Atom Result shape returned by the execution engine.
package atom

// Kind tags the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSlice
	KindMap
)

// Value is a tagged payload value: null | bool | int64 | float64 | string |
// binary | sequence-of-value | map-string-to-value. Atom payloads and
// handler results are built from it.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	slice []Value
	m     map[string]Value
}

func Null() Value { return Value{kind: KindNull} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: append([]byte(nil), b...)} }

func Slice(v []Value) Value { return Value{kind: KindSlice, slice: v} }
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the bool value and whether v actually holds a bool.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Int returns the int64 value, coercing from Float when the float has no
// fractional component (lenient numeric handling, matching dynamically
// typed source payloads).
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	}
	return 0, false
}

// Float returns the float64 value, coercing from Int.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

func (v Value) Slice() ([]Value, bool) {
	if v.kind != KindSlice {
		return nil, false
	}
	return v.slice, true
}

func (v Value) Map() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Get retrieves a field from a map Value, returning the missing/wrong-type
// outcome as ok=false so callers can map it to VALIDATION.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.Map()
	if !ok {
		return Null(), false
	}
	val, ok := m[key]
	return val, ok
}

// FromNative converts an `any` (as produced by encoding/json or gjson) into
// a Value tree. Unsupported types become Null.
func FromNative(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromNative(e)
		}
		return Slice(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromNative(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

// ToNative converts a Value tree back into plain `any` for JSON emission or
// wire encoding.
func (v Value) ToNative() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.bytes
	case KindSlice:
		out := make([]any, len(v.slice))
		for i, e := range v.slice {
			out[i] = e.ToNative()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToNative()
		}
		return out
	default:
		return nil
	}
}
