package codec

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

var errTrailing = errors.New("trailing data after message")

// EncodeRequest serializes the request envelope [method, args...].
func EncodeRequest(c Codec, method string, args ...any) ([]byte, error) {
	if method == "" {
		return nil, errors.New("encode request: empty method name")
	}
	vals := make([]any, 0, len(args)+1)
	vals = append(vals, method)
	vals = append(vals, args...)
	return c.Encode(vals)
}

// DecodeRequest is the inverse of EncodeRequest. Decoded values are
// normalised: integers become int64, lists []any, maps map[string]any.
func DecodeRequest(c Codec, data []byte) (string, []any, error) {
	var vals []any
	if err := c.Decode(data, &vals); err != nil {
		return "", nil, err
	}
	if len(vals) == 0 {
		return "", nil, decodeError(&vals, errors.New("empty request envelope"))
	}
	method, ok := vals[0].(string)
	if !ok {
		return "", nil, decodeError(&vals, errors.Errorf("method name is %T, not a string", vals[0]))
	}
	args := make([]any, len(vals)-1)
	for i, v := range vals[1:] {
		nv, err := Normalize(v)
		if err != nil {
			return "", nil, decodeError(&vals, errors.Wrapf(err, "argument %d", i))
		}
		args[i] = nv
	}
	return method, args, nil
}

// Normalize converts a generically decoded value into the canonical Go shapes
// used across the module.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int64, float64:
		return t, nil
	case []byte:
		return string(t), nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return uintToInt(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return uintToInt(t)
	case float32:
		return float64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ne, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			key, err := Normalize(k)
			if err != nil {
				return nil, err
			}
			ks, ok := key.(string)
			if !ok {
				return nil, errors.Errorf("map key %v is %T, not a string", k, k)
			}
			ne, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[ks] = ne
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func uintToInt(u uint64) (any, error) {
	if u > 1<<63-1 {
		return nil, errors.Errorf("integer %d overflows int64", u)
	}
	return int64(u), nil
}
