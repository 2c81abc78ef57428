package codec

import (
	"fmt"
)

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeCompat  CodecType = 1
	CodecTypeJSON    CodecType = 2
)

// Codec serializes request envelopes and decodes responses into typed shapes.
//
// Decode is strict: a map key with no matching struct field, a type mismatch,
// or trailing bytes all fail with a *DecodeError. The resolver relies on that
// failure to fall back to the error envelope.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=msgpack, 1=msgpack compat, 2=JSON
}

// Validator is implemented by decode targets that need more than a structural match.
type Validator interface {
	Validate() error
}

// DecodeError reports that data did not match the target shape.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode into %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeCompat:
		return NewCompatCodec()
	case CodecTypeJSON:
		return &JSONCodec{}
	}

	return NewMsgpackCodec()
}

// ParseType maps a configuration name to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "msgpack":
		return CodecTypeMsgpack, nil
	case "msgpack-compat", "compat":
		return CodecTypeCompat, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("unsupported codec %q", name)
}

// Wire reports whether msfrpcd can read requests encoded with t.
func (t CodecType) Wire() bool {
	return t == CodecTypeMsgpack || t == CodecTypeCompat
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeMsgpack:
		return "msgpack"
	case CodecTypeCompat:
		return "msgpack-compat"
	case CodecTypeJSON:
		return "json"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

func decodeError(v any, err error) error {
	return &DecodeError{Target: fmt.Sprintf("%T", v), Err: err}
}

// validate runs v's Validate method, if any, after a successful structural decode.
func validate(v any) error {
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return decodeError(v, err)
		}
	}
	return nil
}
