// Package grpc holds the client connection helpers shared by the control and
// logging connections.
package grpc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/louisbranch/sdkharness/internal/platform/timeouts"
)

// Dialer describes how a client connection is created.
type Dialer interface {
	Dial(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)
}

// DialerFunc adapts a dial function to the Dialer interface.
type DialerFunc func(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// Dial implements Dialer for DialerFunc.
func (fn DialerFunc) Dial(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	return fn(addr, opts...)
}

// DialStage describes where a dial attempt failed.
type DialStage string

const (
	// DialStageConnect indicates the client connection could not be created.
	DialStageConnect DialStage = "connect"
	// DialStageReady indicates the connection never became ready.
	DialStageReady DialStage = "ready"
	// DialStageHealth indicates the health check failed.
	DialStageHealth DialStage = "health"
)

// DialError wraps dial and health check failures with a stage indicator.
type DialError struct {
	Stage DialStage
	Addr  string
	Err   error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	if e.Addr == "" {
		return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gRPC %s error for %s: %v", e.Stage, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns the dial options for unauthenticated
// endpoints. The OTel stats handler propagates trace context on every call
// when a TracerProvider is registered.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialConfig controls Dial.
type DialConfig struct {
	// Dialer defaults to gogrpc.NewClient.
	Dialer Dialer
	// Timeout bounds connecting and the optional health check. Zero uses
	// timeouts.GRPCDial.
	Timeout time.Duration
	// HealthCheck waits for the standard health service to report SERVING.
	HealthCheck bool
	// Logf receives progress messages; nil discards them.
	Logf func(string, ...any)
	// Options default to DefaultClientDialOptions.
	Options []gogrpc.DialOption
}

// Dial connects to addr and blocks until the connection is ready, and when
// requested, until the health check reports SERVING. The connection is closed
// on any failure.
func Dial(ctx context.Context, addr string, cfg DialConfig) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, &DialError{Stage: DialStageConnect, Err: fmt.Errorf("address is required")}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DialerFunc(gogrpc.NewClient)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.GRPCDial
	}
	opts := cfg.Options
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.Dial(addr, opts...)
	if err != nil {
		return nil, &DialError{Stage: DialStageConnect, Addr: addr, Err: err}
	}
	if err := WaitForReady(dialCtx, conn); err != nil {
		_ = conn.Close()
		return nil, &DialError{Stage: DialStageReady, Addr: addr, Err: err}
	}
	if cfg.HealthCheck {
		if err := WaitForHealth(dialCtx, conn, "", cfg.Logf); err != nil {
			_ = conn.Close()
			return nil, &DialError{Stage: DialStageHealth, Addr: addr, Err: err}
		}
	}
	if cfg.Logf != nil {
		cfg.Logf("connected to %s", addr)
	}
	return conn, nil
}

// WaitForReady triggers a connection attempt and blocks until conn is READY
// or ctx ends. Transient failures are retried by the channel until then.
func WaitForReady(ctx context.Context, conn *gogrpc.ClientConn) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("connection is shut down")
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("wait for ready (last state %s): %w", state, ctx.Err())
		}
	}
}
