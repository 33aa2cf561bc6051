package wire

import (
	"fmt"
	"testing"

	"github.com/dermesser/zmp/proto"

	pb "github.com/gogo/protobuf/proto"
	"github.com/nuclio/errors"
	"github.com/stretchr/testify/suite"
)

type WireTestSuite struct {
	suite.Suite
}

func (suite *WireTestSuite) TestRequestRoundTrip() {
	args, err := EncodeArgs([]interface{}{17, "x"})
	suite.Require().NoError(err)
	kwargs, err := EncodeKwargs(map[string]interface{}{"flag": true})
	suite.Require().NoError(err)

	for _, rq := range []*proto.ServiceRequest{
		NewRequest("add", args, kwargs),
		NewRequest("empty", nil, nil),
		NewRequest("", []byte{}, []byte{}),
	} {
		buf, err := EncodeRequest(rq)
		suite.Require().NoError(err)

		decoded, err := DecodeRequest(buf)
		suite.Require().NoError(err)
		suite.Require().True(pb.Equal(rq, decoded), "%s != %s", rq, decoded)
	}
}

func (suite *WireTestSuite) TestResponseRoundTrip() {
	result, err := EncodeResult(42)
	suite.Require().NoError(err)

	for _, rp := range []*proto.ServiceResponse{
		NewResult("add", result),
		NewResult("nothing", nil),
		NewFailure("breakworld", NewException("ValueError", "broken", []byte("trace"))),
		NewFailure("breakworld", NewException("ValueError", "", nil)),
	} {
		buf, err := EncodeResponse(rp)
		suite.Require().NoError(err)

		decoded, err := DecodeResponse(buf)
		suite.Require().NoError(err)
		suite.Require().True(pb.Equal(rp, decoded), "%s != %s", rp, decoded)
	}
}

func (suite *WireTestSuite) TestExceptionRoundTrip() {
	exc := NewException(KindUnknownService, "no such service: nope", nil)

	buf, err := EncodeException(exc)
	suite.Require().NoError(err)

	decoded, err := DecodeException(buf)
	suite.Require().NoError(err)
	suite.Require().True(pb.Equal(exc, decoded))
	suite.Require().Nil(decoded.StackTrace)
}

func (suite *WireTestSuite) TestEmptyResultIsPresent() {
	buf, err := EncodeResponse(NewResult("noop", []byte{}))
	suite.Require().NoError(err)

	decoded, err := DecodeResponse(buf)
	suite.Require().NoError(err)
	suite.Require().NotNil(decoded.Response)
	suite.Require().Nil(decoded.Exception)
}

func (suite *WireTestSuite) TestMalformed() {
	garbage := []byte{0xff, 0xff, 0xff, 0xff}

	_, err := DecodeRequest(garbage)
	suite.requireMalformed(err)

	_, err = DecodeResponse(garbage)
	suite.requireMalformed(err)

	_, err = DecodeException(garbage)
	suite.requireMalformed(err)

	// well-formed protobuf but no service name
	_, err = DecodeRequest([]byte{})
	suite.requireMalformed(err)

	_, err = EncodeRequest(&proto.ServiceRequest{})
	suite.requireMalformed(err)
}

func (suite *WireTestSuite) TestInvariantViolation() {
	both := &proto.ServiceResponse{
		Service:   pb.String("x"),
		Response:  []byte{0xc0},
		Exception: NewException("E", "m", nil),
	}

	_, err := EncodeResponse(both)
	suite.requireViolation(err)

	// bypass the encoder check to put the bad message on the wire
	buf, err := pb.Marshal(both)
	suite.Require().NoError(err)
	_, err = DecodeResponse(buf)
	suite.requireViolation(err)

	buf, err = pb.Marshal(&proto.ServiceResponse{Service: pb.String("x")})
	suite.Require().NoError(err)
	_, err = DecodeResponse(buf)
	suite.requireViolation(err)
}

func (suite *WireTestSuite) TestArgsAndBind() {
	buf, err := EncodeArgs([]interface{}{17, 25, "name"})
	suite.Require().NoError(err)

	args, err := DecodeArgs(buf)
	suite.Require().NoError(err)
	suite.Require().Len(args, 3)

	var a, b int
	var name string
	suite.Require().NoError(Bind(args, &a, &b, &name))
	suite.Require().Equal(42, a+b)
	suite.Require().Equal("name", name)

	err = Bind(args, &a)
	suite.Require().IsType(&ArgumentError{}, err)
	suite.Require().Equal(KindArgumentError, KindOf(err))

	err = Bind(args, &name, &b, &a)
	suite.Require().IsType(&ArgumentError{}, err)
	suite.Require().Equal(0, err.(*ArgumentError).Position)
}

func (suite *WireTestSuite) TestEmptyPayloads() {
	args, err := DecodeArgs(nil)
	suite.Require().NoError(err)
	suite.Require().Empty(args)

	kwargs, err := DecodeKwargs(nil)
	suite.Require().NoError(err)
	suite.Require().Empty(kwargs)

	_, err = DecodeKwargs([]byte{0x01})
	suite.requireMalformed(err)
}

type lockedError struct{}

func (lockedError) Error() string         { return "locked" }
func (lockedError) ExceptionKind() string { return "Locked" }

func (suite *WireTestSuite) TestKindOf() {
	suite.Require().Equal("Locked", KindOf(lockedError{}))
	suite.Require().Equal("Locked", KindOf(errors.Wrap(lockedError{}, "Failed to lock")))
	suite.Require().Equal("errors.errorString", KindOf(fmt.Errorf("plain")))
}

func (suite *WireTestSuite) TestFromErrorAndPanic() {
	exc := FromError(errors.Wrap(lockedError{}, "Failed to lock"), true)
	suite.Require().Equal("Locked", exc.GetExcKind())
	suite.Require().Equal("Failed to lock", string(exc.GetExcMessage()))
	suite.Require().NotEmpty(exc.GetStackTrace())

	exc = FromError(lockedError{}, false)
	suite.Require().Nil(exc.StackTrace)

	exc = FromPanic("boom", []byte("goroutine 1"), true)
	suite.Require().Equal(KindPanic, exc.GetExcKind())
	suite.Require().Equal("boom", string(exc.GetExcMessage()))
	suite.Require().Equal("goroutine 1", string(exc.GetStackTrace()))

	exc = FromPanic(lockedError{}, []byte("goroutine 1"), false)
	suite.Require().Equal("Locked", exc.GetExcKind())
	suite.Require().Nil(exc.StackTrace)
}

func (suite *WireTestSuite) TestRebuild() {
	RegisterKind("Locked", func(string) error { return lockedError{} })
	defer RegisterKind("Locked", nil)

	suite.Require().Equal(lockedError{}, Rebuild(NewException("Locked", "locked", nil)))
	suite.Require().Nil(Rebuild(NewException("Other", "x", nil)))
}

func (suite *WireTestSuite) requireMalformed(err error) {
	suite.Require().Error(err)
	suite.Require().IsType(&MalformedMessage{}, err)
}

func (suite *WireTestSuite) requireViolation(err error) {
	suite.Require().Error(err)
	suite.Require().IsType(&ProtocolInvariantViolation{}, err)
}

func TestWireTestSuite(t *testing.T) {
	suite.Run(t, new(WireTestSuite))
}
