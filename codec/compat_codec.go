package codec

import (
	"bytes"
	"reflect"

	msgpackcodec "github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// CompatCodec speaks the pre-2013 MessagePack dialect, where strings travel
// as raw bytes. Struct fields are matched by their `codec` tag.
type CompatCodec struct {
	handle *msgpackcodec.MsgpackHandle
}

func NewCompatCodec() *CompatCodec {
	h := &msgpackcodec.MsgpackHandle{RawToString: true}
	h.ErrorIfNoField = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return &CompatCodec{handle: h}
}

func (c *CompatCodec) Encode(v any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("msgpack compat encode: %v", r)
		}
	}()
	if err := msgpackcodec.NewEncoderBytes(&out, c.handle).Encode(v); err != nil {
		return nil, errors.Wrap(err, "msgpack compat encode")
	}
	return out, nil
}

func (c *CompatCodec) Decode(data []byte, v any) (err error) {
	if len(data) == 0 {
		return decodeError(v, errors.New("empty message"))
	}
	if len(data) == 1 && data[0] == msgpcode.Nil {
		return decodeError(v, errors.New("nil message"))
	}
	// go-msgpack does not report how much it consumed, so measure the
	// first object separately.
	r := bytes.NewReader(data)
	if err := msgpack.NewDecoder(r).Skip(); err != nil {
		return decodeError(v, err)
	}
	if r.Len() > 0 {
		return decodeError(v, errors.Errorf("%d trailing bytes", r.Len()))
	}
	defer func() {
		if r := recover(); r != nil {
			err = decodeError(v, errors.Errorf("%v", r))
		}
	}()
	if err := msgpackcodec.NewDecoderBytes(data, c.handle).Decode(v); err != nil {
		return decodeError(v, err)
	}
	return validate(v)
}

func (c *CompatCodec) Type() CodecType {
	return CodecTypeCompat
}
