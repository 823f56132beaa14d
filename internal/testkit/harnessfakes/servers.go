// Package harnessfakes provides in-process orchestrator endpoints for harness
// tests: a logging service that records every entry and a control service that
// plays a fixed script of instructions.
package harnessfakes

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	platformgrpc "github.com/louisbranch/sdkharness/internal/platform/grpc"
	"github.com/louisbranch/sdkharness/internal/services/harness/fnapi"
)

// LoggingServer records log entries received on the logging stream.
type LoggingServer struct {
	Addr string

	mu        sync.Mutex
	entries   []fnapi.LogEntry
	workerIDs []string
	streams   int
	changed   chan struct{}
}

// StartLoggingServer serves the logging stream on a loopback port until the
// test ends.
func StartLoggingServer(t *testing.T) *LoggingServer {
	t.Helper()
	s := &LoggingServer{changed: make(chan struct{}, 1)}
	s.Addr = Serve(t, fnapi.LoggingServiceDesc(s.handle))
	return s
}

func (s *LoggingServer) handle(_ any, stream grpc.ServerStream) error {
	s.mu.Lock()
	s.streams++
	s.workerIDs = append(s.workerIDs, platformgrpc.WorkerIDFromIncoming(stream.Context()))
	s.mu.Unlock()

	for {
		var batch structpb.Struct
		if err := stream.RecvMsg(&batch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.entries = append(s.entries, fnapi.DecodeLogBatch(&batch)...)
		s.mu.Unlock()
		select {
		case s.changed <- struct{}{}:
		default:
		}
	}
}

// Entries returns a copy of the entries received so far.
func (s *LoggingServer) Entries() []fnapi.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fnapi.LogEntry(nil), s.entries...)
}

// Messages returns the message of every entry received so far.
func (s *LoggingServer) Messages() []string {
	entries := s.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

// WorkerIDs returns the worker id sent on each stream.
func (s *LoggingServer) WorkerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.workerIDs...)
}

// Streams reports how many logging streams were opened.
func (s *LoggingServer) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// WaitForMessage blocks until an entry with message arrives or timeout passes.
func (s *LoggingServer) WaitForMessage(message string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		for _, m := range s.Messages() {
			if m == message {
				return true
			}
		}
		select {
		case <-s.changed:
		case <-deadline:
			return false
		}
	}
}

// ControlServer plays Script to each worker that connects, collects the
// responses and then ends the stream with Result.
type ControlServer struct {
	Addr string

	script []fnapi.Instruction
	result error

	mu        sync.Mutex
	responses []fnapi.InstructionResponse
	workerIDs []string
	streams   int
}

// StartControlServer serves the control stream on a loopback port until the
// test ends. A nil result ends each stream cleanly, signalling shutdown.
func StartControlServer(t *testing.T, result error, script ...fnapi.Instruction) *ControlServer {
	t.Helper()
	s := &ControlServer{script: script, result: result}
	s.Addr = Serve(t, fnapi.ControlServiceDesc(s.handle))
	return s
}

func (s *ControlServer) handle(_ any, stream grpc.ServerStream) error {
	s.mu.Lock()
	s.streams++
	s.workerIDs = append(s.workerIDs, platformgrpc.WorkerIDFromIncoming(stream.Context()))
	s.mu.Unlock()

	for _, in := range s.script {
		if err := stream.SendMsg(fnapi.EncodeInstruction(in)); err != nil {
			return err
		}
	}
	for range s.script {
		var msg structpb.Struct
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		s.mu.Lock()
		s.responses = append(s.responses, fnapi.DecodeResponse(&msg))
		s.mu.Unlock()
	}
	return s.result
}

// Responses returns the responses received so far.
func (s *ControlServer) Responses() []fnapi.InstructionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fnapi.InstructionResponse(nil), s.responses...)
}

// Response returns the response for instruction id.
func (s *ControlServer) Response(id string) (fnapi.InstructionResponse, bool) {
	for _, r := range s.Responses() {
		if r.ID == id {
			return r, true
		}
	}
	return fnapi.InstructionResponse{}, false
}

// WorkerIDs returns the worker id sent on each stream.
func (s *ControlServer) WorkerIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.workerIDs...)
}

// Streams reports how many control streams were opened.
func (s *ControlServer) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// Serve registers desc with a health service on a loopback port until the test
// ends and returns the address.
func Serve(t *testing.T, desc *grpc.ServiceDesc) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := grpc.NewServer()
	server.RegisterService(desc, struct{}{})
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	t.Cleanup(func() {
		server.Stop()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
		}
	})
	return listener.Addr().String()
}
