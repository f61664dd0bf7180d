package server

import (
	"context"
	"reflect"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"erp-rpc/message"
)

// Handler implements one method of a model. Returning a nil or Nil value
// emulates a server method that returns None.
type Handler func(ctx context.Context, args message.Array, kwargs *message.Struct) (message.Value, error)

type model struct {
	name   string
	method map[string]Handler
}

// newModel scans rcvr's exported methods and registers those with the
// Handler signature. Go method names are exposed in snake case, so
// SearchRead is called as search_read.
func newModel(name string, rcvr any) (*model, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("model %s: receiver must be a pointer, got %v", name, typ)
	}
	val := reflect.ValueOf(rcvr)

	m := &model{name: name, method: make(map[string]Handler)}
	for i := 0; i < typ.NumMethod(); i++ {
		fn, ok := val.Method(i).Interface().(func(context.Context, message.Array, *message.Struct) (message.Value, error))
		if !ok {
			continue
		}
		m.method[snakeCase(typ.Method(i).Name)] = fn
	}
	if len(m.method) == 0 {
		return nil, errors.Errorf("model %s: %s has no handler methods", name, typ)
	}
	return m, nil
}

// snakeCase turns SearchRead into search_read.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
