/*
Package wire encodes and decodes the three message kinds exchanged between a
client and a node: ServiceRequest, ServiceResponse and ServiceException.

One request/reply round trip carries exactly one marshalled message in each
direction. The payloads inside the messages (positional and keyword arguments,
return values) are msgpack blobs, see payload.go.
*/
package wire

import (
	"github.com/dermesser/zmp/proto"

	pb "github.com/gogo/protobuf/proto"
	"github.com/nuclio/errors"
)

var (
	errNoService = errors.New("no service name")
	errNoKind    = errors.New("no exception kind")
)

const (
	kindRequest   = "ServiceRequest"
	kindResponse  = "ServiceResponse"
	kindException = "ServiceException"
)

// NewRequest builds a request for service with already encoded payloads.
func NewRequest(service string, args, kwargs []byte) *proto.ServiceRequest {
	return &proto.ServiceRequest{Service: pb.String(service), Args: args, Kwargs: kwargs}
}

// NewResult builds a successful response.
func NewResult(service string, result []byte) *proto.ServiceResponse {
	if result == nil {
		result = []byte{}
	}
	return &proto.ServiceResponse{Service: pb.String(service), Response: result}
}

// NewFailure builds a response carrying an exception.
func NewFailure(service string, exc *proto.ServiceException) *proto.ServiceResponse {
	return &proto.ServiceResponse{Service: pb.String(service), Exception: exc}
}

func EncodeRequest(rq *proto.ServiceRequest) ([]byte, error) {
	if rq.Service == nil {
		return nil, &MalformedMessage{Kind: kindRequest, Cause: errNoService}
	}
	return pb.Marshal(rq)
}

func DecodeRequest(buf []byte) (*proto.ServiceRequest, error) {
	rq := new(proto.ServiceRequest)

	if err := pb.Unmarshal(buf, rq); err != nil {
		return nil, &MalformedMessage{Kind: kindRequest, Cause: err}
	}
	if rq.Service == nil {
		return nil, &MalformedMessage{Kind: kindRequest, Cause: errNoService}
	}
	return rq, nil
}

func EncodeResponse(rp *proto.ServiceResponse) ([]byte, error) {
	if err := checkResponse(rp); err != nil {
		return nil, err
	}
	return pb.Marshal(rp)
}

// DecodeResponse parses a response and enforces that exactly one of
// result and exception is present.
func DecodeResponse(buf []byte) (*proto.ServiceResponse, error) {
	rp := new(proto.ServiceResponse)

	if err := pb.Unmarshal(buf, rp); err != nil {
		return nil, &MalformedMessage{Kind: kindResponse, Cause: err}
	}
	if err := checkResponse(rp); err != nil {
		return nil, err
	}
	return rp, nil
}

func EncodeException(exc *proto.ServiceException) ([]byte, error) {
	return pb.Marshal(exc)
}

func DecodeException(buf []byte) (*proto.ServiceException, error) {
	exc := new(proto.ServiceException)

	if err := pb.Unmarshal(buf, exc); err != nil {
		return nil, &MalformedMessage{Kind: kindException, Cause: err}
	}
	if exc.ExcKind == nil {
		return nil, &MalformedMessage{Kind: kindException, Cause: errNoKind}
	}
	return exc, nil
}

func checkResponse(rp *proto.ServiceResponse) error {
	switch {
	case rp.Response != nil && rp.Exception != nil:
		return &ProtocolInvariantViolation{Service: rp.GetService(), Reason: "both response and exception are set"}
	case rp.Response == nil && rp.Exception == nil:
		return &ProtocolInvariantViolation{Service: rp.GetService(), Reason: "neither response nor exception is set"}
	}
	return nil
}
