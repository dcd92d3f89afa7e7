package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind classifies a decoded argument value.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindNull   Kind = "null"
)

// DynamicValue is a typed view over a decoded JSON argument. Handlers read
// arguments through the typed accessors instead of raw type assertions, so
// a malformed argument surfaces as an InvalidArgumentError rather than a
// panic deep inside a handler.
type DynamicValue struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  map[string]DynamicValue
	arr  []DynamicValue
}

// FromJSON decodes a raw JSON argument object into a DynamicValue map.
func FromJSON(raw json.RawMessage) (map[string]DynamicValue, error) {
	if len(raw) == 0 {
		return map[string]DynamicValue{}, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return fromMap(decoded), nil
}

// FromMap wraps an already-decoded argument map.
func FromMap(args map[string]any) map[string]DynamicValue {
	return fromMap(args)
}

func fromMap(m map[string]any) map[string]DynamicValue {
	out := make(map[string]DynamicValue, len(m))
	for k, v := range m {
		out[k] = fromAny(v)
	}
	return out
}

func fromAny(v any) DynamicValue {
	switch t := v.(type) {
	case nil:
		return DynamicValue{kind: KindNull}
	case string:
		return DynamicValue{kind: KindString, str: t}
	case bool:
		return DynamicValue{kind: KindBool, b: t}
	case float64:
		return DynamicValue{kind: KindNumber, num: t}
	case int:
		return DynamicValue{kind: KindNumber, num: float64(t)}
	case int64:
		return DynamicValue{kind: KindNumber, num: float64(t)}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return DynamicValue{kind: KindString, str: t.String()}
		}
		return DynamicValue{kind: KindNumber, num: f}
	case map[string]any:
		return DynamicValue{kind: KindObject, obj: fromMap(t)}
	case []any:
		arr := make([]DynamicValue, len(t))
		for i, e := range t {
			arr[i] = fromAny(e)
		}
		return DynamicValue{kind: KindArray, arr: arr}
	default:
		return DynamicValue{kind: KindString, str: fmt.Sprintf("%v", t)}
	}
}

// Kind returns the value's classification.
func (v DynamicValue) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// String returns the string form of a string value.
func (v DynamicValue) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Float returns the numeric form of a number value.
func (v DynamicValue) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Int returns a number value as an int, rejecting fractional parts.
func (v DynamicValue) Int() (int, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.num != math.Trunc(v.num) {
		return 0, false
	}
	return int(v.num), true
}

// Bool returns the boolean form of a bool value.
func (v DynamicValue) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Object returns the field map of an object value.
func (v DynamicValue) Object() (map[string]DynamicValue, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Array returns the elements of an array value.
func (v DynamicValue) Array() ([]DynamicValue, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// Args is the typed argument set passed to handlers.
type Args map[string]DynamicValue

// StringField extracts a required string argument.
func (a Args) StringField(name string) (string, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return "", &InvalidArgumentError{Field: name, Reason: "required"}
	}
	s, ok := v.String()
	if !ok {
		return "", &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected string, got %s", v.Kind())}
	}
	return s, nil
}

// OptionalString extracts a string argument, falling back to def when absent.
func (a Args) OptionalString(name, def string) (string, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return def, nil
	}
	s, ok := v.String()
	if !ok {
		return "", &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected string, got %s", v.Kind())}
	}
	return s, nil
}

// IntField extracts a required integer argument.
func (a Args) IntField(name string) (int, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return 0, &InvalidArgumentError{Field: name, Reason: "required"}
	}
	n, ok := v.Int()
	if !ok {
		return 0, &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected integer, got %s", v.Kind())}
	}
	return n, nil
}

// OptionalInt extracts an integer argument, falling back to def when absent.
func (a Args) OptionalInt(name string, def int) (int, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return def, nil
	}
	n, ok := v.Int()
	if !ok {
		return 0, &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected integer, got %s", v.Kind())}
	}
	return n, nil
}

// FloatField extracts a required numeric argument.
func (a Args) FloatField(name string) (float64, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return 0, &InvalidArgumentError{Field: name, Reason: "required"}
	}
	f, ok := v.Float()
	if !ok {
		return 0, &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected number, got %s", v.Kind())}
	}
	return f, nil
}

// OptionalFloat extracts a numeric argument, falling back to def when absent.
func (a Args) OptionalFloat(name string, def float64) (float64, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return def, nil
	}
	f, ok := v.Float()
	if !ok {
		return 0, &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected number, got %s", v.Kind())}
	}
	return f, nil
}

// EnumField extracts a required string argument restricted to allowed values.
func (a Args) EnumField(name string, allowed ...string) (string, *InvalidArgumentError) {
	s, err := a.StringField(name)
	if err != nil {
		return "", err
	}
	for _, v := range allowed {
		if s == v {
			return s, nil
		}
	}
	return "", &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("%q is not one of %v", s, allowed)}
}

// ObjectField extracts a required object argument.
func (a Args) ObjectField(name string) (Args, *InvalidArgumentError) {
	v, ok := a[name]
	if !ok || v.Kind() == KindNull {
		return nil, &InvalidArgumentError{Field: name, Reason: "required"}
	}
	obj, ok := v.Object()
	if !ok {
		return nil, &InvalidArgumentError{Field: name, Reason: fmt.Sprintf("expected object, got %s", v.Kind())}
	}
	return Args(obj), nil
}

// ClampInt bounds n to [lo, hi].
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
