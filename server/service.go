package server

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Args are the positional request fields after the method name and token.
// Values are normalised by codec.DecodeRequest: integers are int64, lists
// []any and maps map[string]any.
type Args []any

func (a Args) Len() int { return len(a) }

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	if i >= len(a) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := a[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is %T, want string", i, a[i])
	}
	return s, nil
}

// Int returns argument i as an int64.
func (a Args) Int(i int) (int64, error) {
	if i >= len(a) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	n, ok := a[i].(int64)
	if !ok {
		return 0, fmt.Errorf("argument %d is %T, want integer", i, a[i])
	}
	return n, nil
}

// Map returns argument i as a string-keyed map.
func (a Args) Map(i int) (map[string]any, error) {
	if i >= len(a) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	m, ok := a[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %d is %T, want map", i, a[i])
	}
	return m, nil
}

type methodType struct {
	method    reflect.Method
	ReplyType reflect.Type
}

type service struct {
	name   string // Method prefix, e.g. "auth"
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType // Keyed by wire name, e.g. "token_list"
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	argsType    = reflect.TypeOf(Args(nil))
)

// newService scans rcvr for exported methods shaped like
//
//	func (r *T) TokenList(ctx context.Context, args Args, reply *R) error
//
// and exposes each one as "{name}.{snake_case(Method)}".
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = snakeCase(typ.Elem().Name())
	}
	s := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported methods of the form (ctx, Args, *Reply) error", typ)
	}
	return s, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		// receiver, ctx, args, reply
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		if mt.In(1) != contextType || mt.In(2) != argsType || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		s.method[snakeCase(method.Name)] = &methodType{
			method:    method,
			ReplyType: mt.In(3).Elem(),
		}
	}
}

// handler adapts one reflected method to a HandlerFunc.
func (s *service) handler(mType *methodType) HandlerFunc {
	return func(ctx context.Context, args Args) (any, error) {
		replyv := reflect.New(mType.ReplyType)
		in := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), reflect.ValueOf(args), replyv}
		results := mType.method.Func.Call(in[:])
		if !results[0].IsNil() {
			return nil, results[0].Interface().(error)
		}
		return replyv.Interface(), nil
	}
}

// snakeCase turns "MeterpreterRunSingle" into "meterpreter_run_single".
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
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
