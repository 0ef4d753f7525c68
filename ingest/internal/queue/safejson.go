package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"
)

// maxSafeInteger is the largest integer a float64 JSON consumer reads back
// exactly.
const maxSafeInteger = 1<<53 - 1

// maxDepth bounds the walk so self-referencing values encode as null.
const maxDepth = 64

var (
	timeType       = reflect.TypeOf(time.Time{})
	bigIntType     = reflect.TypeOf(big.Int{})
	bigFloatType   = reflect.TypeOf(big.Float{})
	jsonNumberType = reflect.TypeOf(json.Number(""))
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
)

// SafeMarshal encodes v for storage in Redis. Unlike json.Marshal it never
// fails on values it cannot represent exactly: big numbers become strings,
// times become RFC3339Nano UTC, set-like maps become sorted arrays, and
// NaN, infinities and over-deep values become null.
func SafeMarshal(v any) ([]byte, error) {
	out, err := json.Marshal(sanitize(reflect.ValueOf(v), 0))
	if err != nil {
		return nil, fmt.Errorf("safe marshal: %w", err)
	}
	return out, nil
}

func sanitize(v reflect.Value, depth int) any {
	if !v.IsValid() || depth > maxDepth {
		return nil
	}

	switch v.Type() {
	case timeType:
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	case bigIntType:
		n := v.Interface().(big.Int)
		return n.String()
	case bigFloatType:
		f := v.Interface().(big.Float)
		return f.Text('g', -1)
	case jsonNumberType:
		return v.String()
	case rawMessageType:
		raw := v.Interface().(json.RawMessage)
		if len(raw) == 0 || !json.Valid(raw) {
			return nil
		}
		return raw
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), depth+1)

	case reflect.Bool:
		return v.Bool()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > maxSafeInteger || n < -maxSafeInteger {
			return fmt.Sprintf("%d", n)
		}
		return n

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > maxSafeInteger {
			return fmt.Sprintf("%d", n)
		}
		return n

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f

	case reflect.String:
		return v.String()

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := v.Bytes()
			if utf8.Valid(b) {
				return string(b)
			}
			return base64.StdEncoding.EncodeToString(b)
		}
		return sanitizeList(v, depth)

	case reflect.Array:
		return sanitizeList(v, depth)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if set, ok := setMembers(v); ok {
			return set
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value(), depth+1)
		}
		return out

	case reflect.Struct:
		return sanitizeStruct(v, depth)

	default:
		// chan, func, unsafe pointer
		return nil
	}
}

func sanitizeList(v reflect.Value, depth int) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = sanitize(v.Index(i), depth+1)
	}
	return out
}

// sanitizeStruct follows encoding/json field naming so envelopes keep their
// wire shape.
func sanitizeStruct(v reflect.Value, depth int) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, opts := parseTag(field.Tag.Get("json"))
		if name == "-" && opts == "" {
			continue
		}

		fv := v.Field(i)
		if field.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				for k, val := range sanitizeStruct(inner, depth+1) {
					if _, exists := out[k]; !exists {
						out[k] = val
					}
				}
				continue
			}
		}

		if name == "" {
			name = field.Name
		}
		if opts == "omitempty" && isEmpty(fv) {
			continue
		}
		out[name] = sanitize(fv, depth+1)
	}
	return out
}

func parseTag(tag string) (name, opts string) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], tag[i+1:]
		}
	}
	return tag, ""
}

func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).IsZero()
		}
	}
	return false
}

// setMembers reports map[K]struct{} and map[K]bool values as sorted member
// lists. A bool map only counts as a set when every value is true.
func setMembers(v reflect.Value) ([]string, bool) {
	elem := v.Type().Elem()
	switch {
	case elem.Kind() == reflect.Struct && elem.NumField() == 0:
	case elem.Kind() == reflect.Bool:
		iter := v.MapRange()
		for iter.Next() {
			if !iter.Value().Bool() {
				return nil, false
			}
		}
	default:
		return nil, false
	}

	members := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		members = append(members, fmt.Sprint(iter.Key().Interface()))
	}
	sort.Strings(members)
	return members, true
}
