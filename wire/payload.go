package wire

import (
	"fmt"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// Positional and keyword arguments travel as msgpack; only msgpack capable
// peers can interoperate with a node.

func EncodeArgs(args []interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	b, err := msgpack.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode positional arguments")
	}
	return b, nil
}

func EncodeKwargs(kwargs map[string]interface{}) ([]byte, error) {
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	b, err := msgpack.Marshal(kwargs)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode keyword arguments")
	}
	return b, nil
}

func EncodeResult(result interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode result")
	}
	return b, nil
}

// DecodeArgs returns the positional arguments. An absent blob is an empty list.
func DecodeArgs(b []byte) ([]interface{}, error) {
	args := []interface{}{}
	if len(b) == 0 {
		return args, nil
	}
	if err := msgpack.Unmarshal(b, &args); err != nil {
		return nil, &MalformedMessage{Kind: "args", Cause: err}
	}
	return args, nil
}

// DecodeKwargs returns the keyword arguments. An absent blob is an empty map.
func DecodeKwargs(b []byte) (map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if len(b) == 0 {
		return kwargs, nil
	}
	if err := msgpack.Unmarshal(b, &kwargs); err != nil {
		return nil, &MalformedMessage{Kind: "kwargs", Cause: err}
	}
	return kwargs, nil
}

// DecodeResult unmarshals a result blob into v.
func DecodeResult(b []byte, v interface{}) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "Failed to decode result")
	}
	return nil
}

// Bind converts each positional argument into the value pointed to by the
// matching element of dst. The number of arguments must match exactly.
func Bind(args []interface{}, dst ...interface{}) error {
	if len(args) != len(dst) {
		return &ArgumentError{
			Position: -1,
			Reason:   fmt.Sprintf("expected %d positional arguments, got %d", len(dst), len(args)),
		}
	}

	for i := range dst {
		if err := Convert(args[i], dst[i]); err != nil {
			return &ArgumentError{Position: i, Reason: err.Error()}
		}
	}
	return nil
}

// Convert re-encodes a decoded value into the type pointed to by dst, so that
// e.g. an int8 produced by the decoder can be read into an int.
func Convert(value interface{}, dst interface{}) error {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(b, dst)
}
