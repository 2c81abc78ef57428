package codec

import (
	"bytes"
	"encoding/json"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// msfrpcd does not accept it, so it is never a wire codec. It is handy for
// dumping envelopes while debugging.
// Numbers decoded into interface values stay json.Number until Normalize.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return decodeError(v, err)
	}
	if dec.More() {
		return decodeError(v, errTrailing)
	}
	return validate(v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
