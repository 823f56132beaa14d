// Package logsink ships process log records to the orchestrator's logging
// service over a gRPC stream for the duration of a harness run.
package logsink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/sdkharness/internal/platform/discovery"
	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
	platformgrpc "github.com/louisbranch/sdkharness/internal/platform/grpc"
	"github.com/louisbranch/sdkharness/internal/platform/timeouts"
	"github.com/louisbranch/sdkharness/internal/services/harness/fnapi"
)

const (
	defaultBufferSize = 4096
	defaultMaxBatch   = 256
)

// Options tunes the sink. Zero values select defaults.
type Options struct {
	WorkerID      string
	DialTimeout   time.Duration
	FlushTimeout  time.Duration
	FlushInterval time.Duration
	MaxBatch      int
	BufferSize    int
	Dialer        platformgrpc.Dialer
	DialOptions   []grpc.DialOption
}

func (o Options) normalized() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = timeouts.GRPCDial
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = timeouts.LogFlush
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = timeouts.LogBatch
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = defaultMaxBatch
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	return o
}

// Sink is an open logging stream. Records reach it through Handler; Close
// flushes and releases the connection.
type Sink struct {
	opts   Options
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	entries chan fnapi.LogEntry

	sent    atomic.Int64
	dropped atomic.Int64

	senderDone chan struct{}
	sendErr    error
	recvDone   chan struct{}
	recvErr    error

	closeOnce sync.Once
	closeErr  error
}

// Open dials the logging service described by d and starts streaming. On
// failure everything opened so far is released and a nil Sink is returned;
// Close on that nil Sink is a no-op.
func Open(ctx context.Context, d discovery.Descriptor, opts Options) (*Sink, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.Authenticated() {
		return nil, apperrors.WithMetadata(
			apperrors.CodeUnsupportedAuthentication,
			"logging service requests an oauth2 client credentials grant",
			map[string]string{"url": d.URL},
		)
	}
	opts = opts.normalized()

	conn, err := platformgrpc.Dial(ctx, d.URL, platformgrpc.DialConfig{
		Dialer:  opts.Dialer,
		Timeout: opts.DialTimeout,
		Options: opts.DialOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("dial logging service: %w", err)
	}

	// The stream outlives cancellation of ctx so the final lifecycle records
	// still reach the service during shutdown.
	streamCtx, cancel := context.WithCancel(platformgrpc.WithWorkerID(context.WithoutCancel(ctx), opts.WorkerID))
	stream, err := conn.NewStream(streamCtx, fnapi.LoggingStream, fnapi.LoggingFullMethod())
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open logging stream: %w", err)
	}

	s := &Sink{
		opts:       opts,
		conn:       conn,
		stream:     stream,
		cancel:     cancel,
		entries:    make(chan fnapi.LogEntry, opts.BufferSize),
		senderDone: make(chan struct{}),
		recvDone:   make(chan struct{}),
	}
	go s.send()
	go s.receive()
	return s, nil
}

// Handler returns the slog handler feeding this sink. It accepts records at
// MinLevel and above and never blocks on the network.
func (s *Sink) Handler() slog.Handler {
	return &handler{sink: s}
}

// Sent reports how many entries were written to the stream.
func (s *Sink) Sent() int64 {
	if s == nil {
		return 0
	}
	return s.sent.Load()
}

// Dropped reports how many entries were discarded because the buffer was
// full, the stream had failed, or the sink was closed.
func (s *Sink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close stops accepting records, flushes what is buffered within the flush
// timeout, ends the stream and closes the connection. It runs once; later
// calls return the first result. The returned error is diagnostic only.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Sink) accepting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Sink) enqueue(entry fnapi.LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.entries <- entry:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) close() error {
	s.mu.Lock()
	s.closed = true
	close(s.entries)
	s.mu.Unlock()

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	defer cancelFlush()

	var errs []error
	select {
	case <-s.senderDone:
		if s.sendErr != nil {
			errs = append(errs, fmt.Errorf("send log entries: %w", s.sendErr))
		}
		if err := s.stream.CloseSend(); err != nil {
			errs = append(errs, fmt.Errorf("close logging stream: %w", err))
		}
	case <-flushCtx.Done():
		errs = append(errs, fmt.Errorf("flush log entries: timed out after %s", s.opts.FlushTimeout))
	}

	serverDone := false
	select {
	case <-s.recvDone:
		serverDone = true
	case <-flushCtx.Done():
	}

	s.cancel()
	<-s.senderDone
	<-s.recvDone
	if serverDone && s.recvErr != nil {
		errs = append(errs, fmt.Errorf("logging stream: %w", s.recvErr))
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logging connection: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Sink) send() {
	defer close(s.senderDone)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*structpb.Value, 0, s.opts.MaxBatch)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := s.stream.SendMsg(fnapi.NewLogBatch(batch)); err != nil {
			s.sendErr = err
			s.dropped.Add(int64(len(batch)))
			batch = batch[:0]
			return false
		}
		s.sent.Add(int64(len(batch)))
		batch = batch[:0]
		return true
	}

	for {
		select {
		case entry, ok := <-s.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry.Value())
			if len(batch) >= s.opts.MaxBatch && !flush() {
				s.discard()
				return
			}
		case <-ticker.C:
			if !flush() {
				s.discard()
				return
			}
		}
	}
}

// discard consumes entries until the sink is closed after the stream failed.
func (s *Sink) discard() {
	for range s.entries {
		s.dropped.Add(1)
	}
}

func (s *Sink) receive() {
	defer close(s.recvDone)
	for {
		var control structpb.Struct
		if err := s.stream.RecvMsg(&control); err != nil {
			if !errors.Is(err, io.EOF) {
				s.recvErr = err
			}
			return
		}
	}
}
