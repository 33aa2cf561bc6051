package client

import (
	"github.com/dermesser/zmp/wire"
)

// Reply is the successful result of a call.
type Reply struct {
	service string
	node    string
	payload []byte
}

// Decode unpacks the result into v, converting numbers to the type v points to.
func (r *Reply) Decode(v interface{}) error {
	return wire.DecodeResult(r.payload, v)
}

// Value returns the result as decoded by msgpack.
func (r *Reply) Value() (interface{}, error) {
	var value interface{}
	if err := wire.DecodeResult(r.payload, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func (r *Reply) Raw() []byte {
	return r.payload
}

// Node returns the id of the node that answered.
func (r *Reply) Node() string {
	return r.node
}

func (r *Reply) Service() string {
	return r.service
}
