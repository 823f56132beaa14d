// Package control implements the default worker harness: it holds the control
// stream open, runs instructions from the orchestrator on a bounded set of
// workers and answers each one on the same stream.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
	platformgrpc "github.com/louisbranch/sdkharness/internal/platform/grpc"
	"github.com/louisbranch/sdkharness/internal/platform/timeouts"
	"github.com/louisbranch/sdkharness/internal/services/harness/fnapi"
	"github.com/louisbranch/sdkharness/internal/services/harness/storage"
)

const defaultMaxConcurrentInstructions = 4

// Handler executes one instruction and returns the response payload.
type Handler func(ctx context.Context, in fnapi.Instruction) (map[string]any, error)

// Options configures a Harness beyond its control URL.
type Options struct {
	WorkerID                  string
	DialTimeout               time.Duration
	HealthCheck               bool
	MaxConcurrentInstructions int
	// Journal records every handled instruction when set.
	Journal storage.Journal
	// Handlers adds or replaces instruction kinds.
	Handlers map[string]Handler
	Dialer   platformgrpc.Dialer
	// DialOptions default to platformgrpc.DefaultClientDialOptions.
	DialOptions []grpc.DialOption
	// Logger defaults to the process logger at the time of each call.
	Logger *slog.Logger
}

// Harness is the default control-plane worker.
type Harness struct {
	url      string
	opts     Options
	handlers map[string]Handler

	inFlight atomic.Int64
	handled  atomic.Int64
}

// New builds a harness for the control service at url.
func New(url string, opts Options) (*Harness, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("control url is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = timeouts.GRPCDial
	}
	if opts.MaxConcurrentInstructions <= 0 {
		opts.MaxConcurrentInstructions = defaultMaxConcurrentInstructions
	}

	h := &Harness{url: url, opts: opts}
	h.handlers = map[string]Handler{
		KindStatus:   h.status,
		KindRegister: h.register,
	}
	for kind, handler := range opts.Handlers {
		kind = strings.TrimSpace(kind)
		if kind == "" || handler == nil {
			continue
		}
		h.handlers[kind] = handler
	}
	return h, nil
}

// Handled reports how many instructions have been answered.
func (h *Harness) Handled() int64 {
	return h.handled.Load()
}

// Run connects to the control service and serves instructions until the
// service ends the stream, which is a normal completion. Connection failures,
// stream errors and cancellation of ctx are HARNESS_EXECUTION errors. All
// instruction workers finish before Run returns.
func (h *Harness) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := platformgrpc.Dial(ctx, h.url, platformgrpc.DialConfig{
		Dialer:      h.opts.Dialer,
		Timeout:     h.opts.DialTimeout,
		HealthCheck: h.opts.HealthCheck,
		Logf:        log.Printf,
		Options:     h.opts.DialOptions,
	})
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeHarnessExecution, "dial control service", map[string]string{"url": h.url}, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("close control connection: %v", closeErr)
		}
	}()

	streamCtx, cancel := context.WithCancel(platformgrpc.WithWorkerID(ctx, h.opts.WorkerID))
	defer cancel()
	group, groupCtx := errgroup.WithContext(streamCtx)
	group.SetLimit(h.opts.MaxConcurrentInstructions)

	stream, err := conn.NewStream(groupCtx, fnapi.ControlStream, fnapi.ControlFullMethod())
	if err != nil {
		return apperrors.WrapWithMetadata(apperrors.CodeHarnessExecution, "open control stream", map[string]string{"url": h.url}, err)
	}
	out := &responder{stream: stream}

	h.logger().Info("control stream open", "url", h.url, "worker_id", h.opts.WorkerID)
	recvErr := h.receive(ctx, groupCtx, group, stream, out)
	waitErr := group.Wait()

	if recvErr != nil {
		return recvErr
	}
	if waitErr != nil {
		return apperrors.Wrap(apperrors.CodeHarnessExecution, "answer instruction", waitErr)
	}
	if err := stream.CloseSend(); err != nil {
		log.Printf("close control stream: %v", err)
	}
	return nil
}

func (h *Harness) receive(ctx, groupCtx context.Context, group *errgroup.Group, stream grpc.ClientStream, out *responder) error {
	for {
		var msg structpb.Struct
		if err := stream.RecvMsg(&msg); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return apperrors.Wrap(apperrors.CodeHarnessExecution, "control stream cancelled", ctx.Err())
			case groupCtx.Err() != nil:
				// A worker failed and cancelled the stream; its error wins.
				return nil
			default:
				return apperrors.Wrap(apperrors.CodeHarnessExecution, "receive instruction", err)
			}
		}

		in, err := fnapi.DecodeInstruction(&msg)
		if err != nil {
			h.logger().Warn("discarding malformed instruction", "err", err)
			continue
		}
		group.Go(func() error {
			return h.handle(groupCtx, in, out)
		})
	}
}

func (h *Harness) handle(ctx context.Context, in fnapi.Instruction, out *responder) error {
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	start := time.Now()

	var (
		payload map[string]any
		err     error
	)
	handler, ok := h.handlers[in.Kind]
	if ok {
		payload, err = handler(ctx, in)
	} else {
		err = apperrors.WithMetadata(apperrors.CodeUnknownInstruction, "unknown instruction kind "+in.Kind, map[string]string{"kind": in.Kind})
	}
	elapsed := time.Since(start)

	resp := fnapi.InstructionResponse{ID: in.ID, Payload: payload}
	outcome := storage.OutcomeSucceeded
	if err != nil {
		resp.Payload = nil
		resp.Error = err.Error()
		resp.Code = string(apperrors.CodeOf(err))
		outcome = storage.OutcomeFailed
		h.logger().Warn("instruction failed", "instruction_id", in.ID, "kind", in.Kind, "err", err)
	} else {
		h.logger().Info("instruction handled", "instruction_id", in.ID, "kind", in.Kind, "duration", elapsed)
	}
	h.handled.Add(1)
	h.record(ctx, in, outcome, resp.Error, elapsed)

	if sendErr := out.send(fnapi.EncodeResponse(resp)); sendErr != nil {
		if errors.Is(sendErr, io.EOF) {
			// The service ended the stream; the receive loop reports why.
			return nil
		}
		return fmt.Errorf("send response for %s: %w", in.ID, sendErr)
	}
	return nil
}

func (h *Harness) record(ctx context.Context, in fnapi.Instruction, outcome, errText string, elapsed time.Duration) {
	if h.opts.Journal == nil {
		return
	}
	err := h.opts.Journal.RecordInstruction(context.WithoutCancel(ctx), storage.InstructionRecord{
		InstructionID: in.ID,
		Kind:          in.Kind,
		WorkerID:      h.opts.WorkerID,
		Outcome:       outcome,
		Error:         errText,
		Duration:      elapsed,
	})
	if err != nil {
		h.logger().Warn("journal instruction", "instruction_id", in.ID, "err", err)
	}
}

func (h *Harness) logger() *slog.Logger {
	if h.opts.Logger != nil {
		return h.opts.Logger
	}
	return slog.Default()
}

// responder serializes sends; a gRPC stream allows one sender at a time.
type responder struct {
	mu     sync.Mutex
	stream grpc.ClientStream
}

func (r *responder) send(msg *structpb.Struct) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream.SendMsg(msg)
}
