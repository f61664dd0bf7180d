package message

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DateTimeFormat is how time.Time values are sent; the ERP expects datetime
// fields as plain strings in this layout.
const DateTimeFormat = "2006-01-02 15:04:05"

var valueType = reflect.TypeOf((*Value)(nil)).Elem()

// FromNative converts a native Go value tree into a Value.
//
// Collections are disambiguated by their keys: slices, arrays and
// integer-keyed maps holding exactly the keys 0..n-1 become an Array, every
// other collection becomes a Struct. An empty collection has no keys to
// prove it is a list, so it is always encoded as an empty Struct.
func FromNative(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Nil{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case time.Time:
		return String(t.UTC().Format(DateTimeFormat)), nil
	case int:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case float64:
		return Double(t), nil
	case []any:
		if len(t) == 0 {
			return &Struct{}, nil
		}
		res := make(Array, 0, len(t))
		for i, item := range t {
			val, err := FromNative(item)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			res = append(res, val)
		}
		return res, nil
	case map[string]any:
		return structFromStringMap(t)
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Nil{}, nil
		}
		if rv.Type().Implements(valueType) {
			return rv.Interface().(Value), nil
		}
		return FromNative(rv.Elem().Interface())
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, errors.Errorf("integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Bytes(rv.Bytes()), nil
		}
		if rv.Len() == 0 {
			return &Struct{}, nil
		}
		res := make(Array, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			val, err := FromNative(rv.Index(i).Interface())
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			res = append(res, val)
		}
		return res, nil
	case reflect.Map:
		return fromMap(rv)
	}
	return nil, errors.Errorf("unsupported native type %s", rv.Type())
}

func structFromStringMap(m map[string]any) (Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := &Struct{}
	for _, k := range keys {
		val, err := FromNative(m[k])
		if err != nil {
			return nil, errors.Wrapf(err, "member %q", k)
		}
		res.Members = append(res.Members, Member{Name: k, Value: val})
	}
	return res, nil
}

func fromMap(rv reflect.Value) (Value, error) {
	switch rv.Type().Key().Kind() {
	case reflect.String:
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return structFromStringMap(m)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		m := make(map[int64]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().Int()] = iter.Value().Interface()
		}
		return fromIntMap(m)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		m := make(map[int64]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().Uint()
			if k > math.MaxInt64 {
				return nil, errors.Errorf("map key %d overflows int64", k)
			}
			m[int64(k)] = iter.Value().Interface()
		}
		return fromIntMap(m)
	case reflect.Interface:
		return fromAnyKeyMap(rv)
	}
	return nil, errors.Errorf("unsupported map key type %s", rv.Type().Key())
}

// fromAnyKeyMap handles maps keyed by interfaces, like map[any]any. Integer
// keys only are treated as in fromIntMap; any other key set gives a Struct
// named by fmt.Sprint of the keys.
func fromAnyKeyMap(rv reflect.Value) (Value, error) {
	ints := make(map[int64]any, rv.Len())
	allInts := true
	iter := rv.MapRange()
	for iter.Next() {
		k, ok := intKey(iter.Key())
		if !ok {
			allInts = false
			break
		}
		ints[k] = iter.Value().Interface()
	}
	if allInts {
		return fromIntMap(ints)
	}

	m := make(map[string]any, rv.Len())
	iter = rv.MapRange()
	for iter.Next() {
		name := fmt.Sprint(iter.Key().Interface())
		if _, dup := m[name]; dup {
			return nil, errors.Errorf("map keys collide on member name %q", name)
		}
		m[name] = iter.Value().Interface()
	}
	return structFromStringMap(m)
}

// intKey unwraps an interface map key holding any integer type.
func intKey(k reflect.Value) (int64, bool) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return 0, false
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return k.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if k.Uint() > math.MaxInt64 {
			return 0, false
		}
		return int64(k.Uint()), true
	}
	return 0, false
}

// fromIntMap builds an Array when keys are exactly 0..n-1, otherwise a Struct
// with decimal member names in numeric order.
func fromIntMap(m map[int64]any) (Value, error) {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	contiguous := len(keys) > 0
	for i, k := range keys {
		if k != int64(i) {
			contiguous = false
			break
		}
	}

	if contiguous {
		res := make(Array, 0, len(keys))
		for _, k := range keys {
			val, err := FromNative(m[k])
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", k)
			}
			res = append(res, val)
		}
		return res, nil
	}

	res := &Struct{}
	for _, k := range keys {
		val, err := FromNative(m[k])
		if err != nil {
			return nil, errors.Wrapf(err, "member %d", k)
		}
		res.Members = append(res.Members, Member{Name: strconv.FormatInt(k, 10), Value: val})
	}
	return res, nil
}

// ToNative converts a Value into plain Go values: int64, float64, bool,
// string, []byte, nil, []any and map[string]any.
func ToNative(v Value) any {
	switch t := v.(type) {
	case Int:
		return int64(t)
	case Double:
		return float64(t)
	case Bool:
		return bool(t)
	case String:
		return string(t)
	case Bytes:
		return []byte(t)
	case Array:
		res := make([]any, 0, len(t))
		for _, item := range t {
			res = append(res, ToNative(item))
		}
		return res
	case *Struct:
		if t == nil {
			return nil
		}
		res := make(map[string]any, len(t.Members))
		for _, m := range t.Members {
			res[m.Name] = ToNative(m.Value)
		}
		return res
	}
	return nil
}
