package grpc

import (
	"context"
	"fmt"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/sdkharness/internal/platform/timeouts"
)

const (
	healthRetryMin = 200 * time.Millisecond
	healthRetryMax = time.Second
)

// WaitForHealth blocks until the health service reports SERVING for service or
// ctx ends. It watches status changes and falls back to polling Check when
// the server does not implement Watch.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	client := grpc_health_v1.NewHealthClient(conn)
	req := &grpc_health_v1.HealthCheckRequest{Service: service}
	watch := true
	retry := healthRetryMin
	for {
		var err error
		if watch {
			err = watchServing(ctx, client, req, logf)
			if status.Code(err) == codes.Unimplemented {
				watch = false
				continue
			}
		} else {
			err = checkServing(ctx, client, req)
		}
		if err == nil {
			logf("gRPC health check is SERVING")
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		}
		logf("waiting for gRPC health: %v", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(retry):
		}
		retry = min(retry*2, healthRetryMax)
	}
}

// watchServing returns nil once the watch stream reports SERVING.
func watchServing(ctx context.Context, client grpc_health_v1.HealthClient, req *grpc_health_v1.HealthCheckRequest, logf func(string, ...any)) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Watch(watchCtx, req)
	if err != nil {
		return err
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		if resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		logf("waiting for gRPC health: status %s", resp.GetStatus())
	}
}

func checkServing(ctx context.Context, client grpc_health_v1.HealthClient, req *grpc_health_v1.HealthCheckRequest) error {
	callCtx, cancel := context.WithTimeout(ctx, timeouts.HealthProbe)
	defer cancel()

	resp, err := client.Check(callCtx, req)
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}
