package wire

import (
	"fmt"
	"reflect"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/ugorji/go/codec"
)

// handle is the msgpack configuration shared by every encoder and decoder.
// WriteExt keeps []byte as msgpack bin so binary fields round-trip.
// ErrorIfNoField rejects map keys the target struct does not declare, so a
// response of the wrong shape fails instead of decoding to a zero value.
var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.WriteExt = true
	h.RawToString = true
	h.Canonical = true
	h.ErrorIfNoField = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// Marshal encodes v with the host encoding (msgpack)
func Marshal(v interface{}) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, handle).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal decodes msgpack data into v
func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, handle).Decode(v)
}

// Encode serializes a zome call payload the way the host expects to receive it
func Encode(payload interface{}) ([]byte, error) {
	b, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Decode deserializes a zome call response into T, failing with DecodeError
// when the bytes do not match T's shape.
func Decode[T any](data []byte) (T, error) {
	var out T
	if err := Unmarshal(data, &out); err != nil {
		return out, types.Wrap(types.KindDecodeError, fmt.Sprintf("decode %T", out), err)
	}
	return out, nil
}
