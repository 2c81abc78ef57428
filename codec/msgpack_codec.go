package codec

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MsgpackCodec is the wire format spoken by msfrpcd.
// Struct fields are matched by their `msgpack` tag.
type MsgpackCodec struct{}

func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{}
}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return buf.Bytes(), nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return decodeError(v, errors.New("empty message"))
	}
	// A bare nil would decode into any shape as its zero value.
	if len(data) == 1 && data[0] == msgpcode.Nil {
		return decodeError(v, errors.New("nil message"))
	}
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.DisallowUnknownFields(true)
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return decodeError(v, err)
	}
	if r.Len() > 0 {
		return decodeError(v, errors.Errorf("%d trailing bytes", r.Len()))
	}
	return validate(v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
