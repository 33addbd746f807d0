package starbind

import (
	"fmt"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
)

// toStarlarkValue converts a Go value returned by the kernel package into
// a starlark.Value.
func toStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case starlark.Value:
		return v
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uintptr:
		return starlark.MakeUint64(uint64(v))
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt64(int64(v))
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []byte:
		return starlark.Bytes(v)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	default:
		vval := reflect.ValueOf(v)
		switch vval.Kind() {
		case reflect.Ptr:
			if vval.IsNil() {
				return starlark.None
			}
			if vval.Elem().Kind() == reflect.Struct {
				return structAsStarlarkValue{vval.Elem()}
			}
		case reflect.Struct:
			return structAsStarlarkValue{vval}
		case reflect.Slice:
			return sliceAsStarlarkValue{vval}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return starlark.MakeInt64(vval.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return starlark.MakeUint64(vval.Uint())
		case reflect.Bool:
			return starlark.Bool(vval.Bool())
		case reflect.String:
			return starlark.String(vval.String())
		}
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// sliceAsStarlarkValue converts a reflect.Value containing a slice
// into a starlark value.
// The public methods of sliceAsStarlarkValue implement the Indexable and
// Sequence starlark interfaces.
type sliceAsStarlarkValue struct {
	v reflect.Value
}

var _ starlark.Indexable = sliceAsStarlarkValue{}
var _ starlark.Sequence = sliceAsStarlarkValue{}

func (v sliceAsStarlarkValue) Freeze() {
}

func (v sliceAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v sliceAsStarlarkValue) String() string {
	return fmt.Sprintf("%v", v.v)
}

func (v sliceAsStarlarkValue) Truth() starlark.Bool {
	return v.v.Len() != 0
}

func (v sliceAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v sliceAsStarlarkValue) Index(i int) starlark.Value {
	if i >= v.v.Len() {
		return nil
	}
	return toStarlarkValue(v.v.Index(i).Interface())
}

func (v sliceAsStarlarkValue) Len() int {
	return v.v.Len()
}

func (v sliceAsStarlarkValue) Iterate() starlark.Iterator {
	return &sliceAsStarlarkValueIterator{0, v.v}
}

type sliceAsStarlarkValueIterator struct {
	cur int
	v   reflect.Value
}

func (it *sliceAsStarlarkValueIterator) Done() {
}

func (it *sliceAsStarlarkValueIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.v.Len() {
		return false
	}
	*p = toStarlarkValue(it.v.Index(it.cur).Interface())
	it.cur++
	return true
}

// structAsStarlarkValue converts any Go struct into a starlark.Value.
// Fields of embedded structs are promoted, and methods that take no
// arguments are exposed as attributes holding their first result.
// The public methods of structAsStarlarkValue implement the
// starlark.HasAttrs interface.
type structAsStarlarkValue struct {
	v reflect.Value
}

var _ starlark.HasAttrs = structAsStarlarkValue{}

func (v structAsStarlarkValue) Freeze() {
}

func (v structAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v structAsStarlarkValue) String() string {
	return fmt.Sprintf("%+v", v.v.Interface())
}

func (v structAsStarlarkValue) Truth() starlark.Bool {
	return true
}

func (v structAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v structAsStarlarkValue) Attr(name string) (starlark.Value, error) {
	if f, ok := v.v.Type().FieldByName(name); ok && f.IsExported() {
		return toStarlarkValue(v.v.FieldByIndex(f.Index).Interface()), nil
	}
	if m := v.method(name); m.IsValid() {
		out := m.Call(nil)
		return toStarlarkValue(out[0].Interface()), nil
	}
	return nil, nil
}

// method returns the exported method called name if it can be called
// without arguments.
func (v structAsStarlarkValue) method(name string) reflect.Value {
	p := reflect.New(v.v.Type())
	p.Elem().Set(v.v)
	m := p.MethodByName(name)
	if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() == 0 {
		return reflect.Value{}
	}
	return m
}

func (v structAsStarlarkValue) AttrNames() []string {
	var r []string
	var walk func(typ reflect.Type)
	walk = func(typ reflect.Type) {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			switch {
			case f.Anonymous && f.Type.Kind() == reflect.Struct:
				walk(f.Type)
			case f.IsExported():
				r = append(r, f.Name)
			}
		}
	}
	walk(v.v.Type())
	ptyp := reflect.PtrTo(v.v.Type())
	for i := 0; i < ptyp.NumMethod(); i++ {
		m := ptyp.Method(i)
		if m.Type.NumIn() == 1 && m.Type.NumOut() > 0 {
			r = append(r, m.Name)
		}
	}
	sort.Strings(r)
	return r
}
