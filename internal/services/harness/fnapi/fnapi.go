// Package fnapi defines the two streams a harness opens against the
// orchestrator and the structpb payloads carried on them. No generated code is
// involved: streams are described with grpc.StreamDesc and every message is a
// google.protobuf.Struct.
package fnapi

import (
	"google.golang.org/grpc"

	platformgrpc "github.com/louisbranch/sdkharness/internal/platform/grpc"
)

const (
	// LoggingService receives log batches from workers.
	LoggingService = "sdkharness.v1.LoggingService"
	// LoggingMethod is the bidirectional logging stream.
	LoggingMethod = "Logging"

	// ControlService hands instructions to workers.
	ControlService = "sdkharness.v1.ControlService"
	// ControlMethod is the bidirectional control stream.
	ControlMethod = "Control"
)

// LoggingStream describes the logging stream for clients.
var LoggingStream = &grpc.StreamDesc{
	StreamName:    LoggingMethod,
	ClientStreams: true,
	ServerStreams: true,
}

// ControlStream describes the control stream for clients.
var ControlStream = &grpc.StreamDesc{
	StreamName:    ControlMethod,
	ClientStreams: true,
	ServerStreams: true,
}

// LoggingFullMethod is the wire method of the logging stream.
func LoggingFullMethod() string {
	return platformgrpc.FullMethod(LoggingService, LoggingMethod)
}

// ControlFullMethod is the wire method of the control stream.
func ControlFullMethod() string {
	return platformgrpc.FullMethod(ControlService, ControlMethod)
}

// LoggingServiceDesc registers handler as the server side of the logging
// stream, for orchestrator implementations and tests.
func LoggingServiceDesc(handler grpc.StreamHandler) *grpc.ServiceDesc {
	return serviceDesc(LoggingService, LoggingMethod, handler)
}

// ControlServiceDesc registers handler as the server side of the control
// stream, for orchestrator implementations and tests.
func ControlServiceDesc(handler grpc.StreamHandler) *grpc.ServiceDesc {
	return serviceDesc(ControlService, ControlMethod, handler)
}

func serviceDesc(service, method string, handler grpc.StreamHandler) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: service,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    method,
			Handler:       handler,
			ClientStreams: true,
			ServerStreams: true,
		}},
	}
}
