package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Value is a sealed interface over the JSON-shaped values that event payloads,
// filters and conditions carry. Only Null, String, Number, Bool, List and Map
// implement it.
type Value interface {
	value()
}

// Null is the JSON null value
type Null struct{}

// String is a text value
type String string

// Number is a numeric value. All integer and float kinds collapse to float64.
type Number float64

// Bool is a boolean value
type Bool bool

// List is an ordered list of values
type List []Value

// Map is a string-keyed object
type Map map[string]Value

func (Null) value()   {}
func (String) value() {}
func (Number) value() {}
func (Bool) value()   {}
func (List) value()   {}
func (Map) value()    {}

// ValueOf converts JSON-shaped Go data into a Value.
// Unsupported kinds (structs, channels, funcs) become their fmt text.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case float32:
		return Number(x)
	case int:
		return Number(x)
	case int8:
		return Number(x)
	case int16:
		return Number(x)
	case int32:
		return Number(x)
	case int64:
		return Number(x)
	case uint:
		return Number(x)
	case uint8:
		return Number(x)
	case uint16:
		return Number(x)
	case uint32:
		return Number(x)
	case uint64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Number(f)
	case []any:
		l := make(List, len(x))
		for i, e := range x {
			l[i] = ValueOf(e)
		}
		return l
	case []string:
		l := make(List, len(x))
		for i, e := range x {
			l[i] = String(e)
		}
		return l
	case map[string]any:
		m := make(Map, len(x))
		for k, e := range x {
			m[k] = ValueOf(e)
		}
		return m
	case map[string]string:
		m := make(Map, len(x))
		for k, e := range x {
			m[k] = String(e)
		}
		return m
	}

	// Typed slices and maps from callers that did not go through encoding/json
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		l := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			l[i] = ValueOf(rv.Index(i).Interface())
		}
		return l
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = ValueOf(iter.Value().Interface())
		}
		return m
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}
		}
		return ValueOf(rv.Elem().Interface())
	}
	return String(fmt.Sprint(v))
}

// Interface converts a Value back into plain Go data
func Interface(v Value) any {
	switch x := v.(type) {
	case String:
		return string(x)
	case Number:
		return float64(x)
	case Bool:
		return bool(x)
	case List:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Interface(e)
		}
		return out
	case Map:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Interface(e)
		}
		return out
	}
	return nil
}

// Lookup resolves a dot-separated path against data. Map keys are matched
// exactly; list elements are addressed by decimal index (items.0.name).
// The second result is false when any segment is missing.
func Lookup(data map[string]any, path string) (Value, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Map:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			v := ValueOf(cur)
			switch n := v.(type) {
			case Map:
				next, ok := n[seg]
				if !ok {
					return nil, false
				}
				cur = next
			case List:
				idx, err := strconv.Atoi(seg)
				if err != nil || idx < 0 || idx >= len(n) {
					return nil, false
				}
				cur = n[idx]
			default:
				return nil, false
			}
		}
	}
	return ValueOf(cur), true
}

// Equal reports structural equality of two values
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Text coerces a value to its textual form. Null becomes the empty string;
// lists and maps are rendered as JSON.
func Text(v Value) string {
	switch x := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(x)
	case Number:
		return strconv.FormatFloat(float64(x), 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(x))
	}
	b, err := json.Marshal(Interface(v))
	if err != nil {
		return ""
	}
	return string(b)
}

// Numeric coerces a value to a number. The second result is false when the
// value has no numeric reading (non-numeric text, lists, maps).
func Numeric(v Value) (float64, bool) {
	switch x := v.(type) {
	case Number:
		return float64(x), !math.IsNaN(float64(x))
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	case Null:
		return 0, true
	case String:
		s := strings.TrimSpace(string(x))
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
