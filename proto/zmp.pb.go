// Message types for zmp.proto.
// The gogo/protobuf table marshaler works off the struct tags below, so keep
// tags and field numbers in sync with zmp.proto.

package proto

import (
	proto "github.com/gogo/protobuf/proto"
)

// Reference imports to suppress errors if they are not otherwise used.
var _ = proto.Marshal

type ServiceRequest struct {
	Service *string `protobuf:"bytes,1,opt,name=service" json:"service,omitempty"`
	Args    []byte  `protobuf:"bytes,2,opt,name=args" json:"args,omitempty"`
	Kwargs  []byte  `protobuf:"bytes,3,opt,name=kwargs" json:"kwargs,omitempty"`
}

func (m *ServiceRequest) Reset()         { *m = ServiceRequest{} }
func (m *ServiceRequest) String() string { return proto.CompactTextString(m) }
func (*ServiceRequest) ProtoMessage()    {}

func (m *ServiceRequest) GetService() string {
	if m != nil && m.Service != nil {
		return *m.Service
	}
	return ""
}

func (m *ServiceRequest) GetArgs() []byte {
	if m != nil {
		return m.Args
	}
	return nil
}

func (m *ServiceRequest) GetKwargs() []byte {
	if m != nil {
		return m.Kwargs
	}
	return nil
}

type ServiceResponse struct {
	Service   *string           `protobuf:"bytes,1,opt,name=service" json:"service,omitempty"`
	Response  []byte            `protobuf:"bytes,2,opt,name=response" json:"response,omitempty"`
	Exception *ServiceException `protobuf:"bytes,3,opt,name=exception" json:"exception,omitempty"`
}

func (m *ServiceResponse) Reset()         { *m = ServiceResponse{} }
func (m *ServiceResponse) String() string { return proto.CompactTextString(m) }
func (*ServiceResponse) ProtoMessage()    {}

func (m *ServiceResponse) GetService() string {
	if m != nil && m.Service != nil {
		return *m.Service
	}
	return ""
}

func (m *ServiceResponse) GetResponse() []byte {
	if m != nil {
		return m.Response
	}
	return nil
}

func (m *ServiceResponse) GetException() *ServiceException {
	if m != nil {
		return m.Exception
	}
	return nil
}

type ServiceException struct {
	ExcKind    *string `protobuf:"bytes,1,opt,name=exc_kind,json=excKind" json:"exc_kind,omitempty"`
	ExcMessage []byte  `protobuf:"bytes,2,opt,name=exc_message,json=excMessage" json:"exc_message,omitempty"`
	StackTrace []byte  `protobuf:"bytes,3,opt,name=stack_trace,json=stackTrace" json:"stack_trace,omitempty"`
}

func (m *ServiceException) Reset()         { *m = ServiceException{} }
func (m *ServiceException) String() string { return proto.CompactTextString(m) }
func (*ServiceException) ProtoMessage()    {}

func (m *ServiceException) GetExcKind() string {
	if m != nil && m.ExcKind != nil {
		return *m.ExcKind
	}
	return ""
}

func (m *ServiceException) GetExcMessage() []byte {
	if m != nil {
		return m.ExcMessage
	}
	return nil
}

func (m *ServiceException) GetStackTrace() []byte {
	if m != nil {
		return m.StackTrace
	}
	return nil
}

func init() {
	proto.RegisterType((*ServiceRequest)(nil), "proto.ServiceRequest")
	proto.RegisterType((*ServiceResponse)(nil), "proto.ServiceResponse")
	proto.RegisterType((*ServiceException)(nil), "proto.ServiceException")
}
