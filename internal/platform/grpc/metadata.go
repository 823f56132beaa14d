package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// WorkerIDKey is the metadata key identifying this worker to the
// orchestrator on every stream it opens.
const WorkerIDKey = "worker_id"

// WithWorkerID attaches the worker id to outgoing call metadata. A blank id
// leaves ctx unchanged.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, WorkerIDKey, workerID)
}

// WorkerIDFromIncoming returns the worker id sent by a client, for servers.
func WorkerIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(WorkerIDKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// FullMethod returns the wire method name for a service method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}
