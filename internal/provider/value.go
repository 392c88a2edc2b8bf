package provider

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind is the type of a variable's value
type Kind int

const (
	KindInt32 Kind = iota
	KindBool
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int32":
		return KindInt32, nil
	case "bool":
		return KindBool, nil
	default:
		return 0, fmt.Errorf("provider: unknown kind %q", s)
	}
}

// Value is a typed variable value
type Value struct {
	Kind Kind
	Int  int32
	Bool bool
}

// Int32Value wraps an int32
func Int32Value(v int32) Value {
	return Value{Kind: KindInt32, Int: v}
}

// BoolValue wraps a bool
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Interface returns the value as int32 or bool
func (v Value) Interface() any {
	if v.Kind == KindBool {
		return v.Bool
	}
	return v.Int
}

// String implements fmt.Stringer
func (v Value) String() string {
	return fmt.Sprint(v.Interface())
}

// MarshalJSON encodes the value as a bare JSON number or boolean
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a bare JSON boolean or integer
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind := KindInt32
	if _, ok := raw.(bool); ok {
		kind = KindBool
	}
	parsed, err := Coerce(kind, raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Coerce converts a decoded JSON value into a Value of the given kind.
// Numbers must be integral and fit in int32; booleans must be JSON booleans.
func Coerce(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("%w: want bool, got %T", ErrTypeMismatch, raw)
		}
		return BoolValue(b), nil

	case KindInt32:
		var f float64
		switch n := raw.(type) {
		case float64:
			f = n
		case json.Number:
			parsed, err := n.Float64()
			if err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			f = parsed
		case int:
			f = float64(n)
		case int32:
			return Int32Value(n), nil
		default:
			return Value{}, fmt.Errorf("%w: want int32, got %T", ErrTypeMismatch, raw)
		}
		if f != math.Trunc(f) {
			return Value{}, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, f)
		}
		if f < math.MinInt32 || f > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %v", ErrOutOfRange, f)
		}
		return Int32Value(int32(f)), nil
	}

	return Value{}, fmt.Errorf("%w: unknown kind %d", ErrTypeMismatch, kind)
}
