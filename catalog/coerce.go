package catalog

import (
	"fmt"
	"reflect"
)

// coerce checks v against kind and converts it to the canonical wire value.
func coerce(kind Kind, v any) (any, error) {
	switch kind {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Int:
		return toInt64(v)
	case StringList:
		switch t := v.(type) {
		case []string:
			return t, nil
		case []any:
			out := make([]string, len(t))
			for i, e := range t {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("element %d is %T, want string", i, e)
				}
				out[i] = s
			}
			return out, nil
		}
	case Map:
		switch t := v.(type) {
		case map[string]string:
			return t, nil
		case map[string]any:
			return t, nil
		case nil:
			return map[string]any{}, nil
		}
	case Any:
		return v, nil
	}
	return nil, fmt.Errorf("got %T, want %s", v, kind)
}

func toInt64(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return nil, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	}
	return nil, fmt.Errorf("got %T, want int", v)
}
