// Package app sequences a harness run: remote logging setup, control
// descriptor resolution, harness execution and guaranteed teardown.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/louisbranch/sdkharness/internal/platform/discovery"
	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
	"github.com/louisbranch/sdkharness/internal/platform/logging"
)

// State is a step of the lifecycle.
type State string

const (
	StateStart             State = "START"
	StateLoggingConfigured State = "LOGGING_CONFIGURED"
	StateRunning           State = "RUNNING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// LogSink is an open remote logging destination.
type LogSink interface {
	Handler() slog.Handler
	Close() error
}

// SinkOpener opens the remote log sink described by d.
type SinkOpener func(ctx context.Context, d discovery.Descriptor) (LogSink, error)

// HarnessRunner validates the control descriptor and runs the harness.
type HarnessRunner interface {
	Run(ctx context.Context, d discovery.Descriptor) error
}

// Lifecycle runs one harness from start to teardown.
type Lifecycle struct {
	Locator  discovery.Locator
	Logging  *logging.State
	OpenSink SinkOpener
	Runner   HarnessRunner

	mu    sync.Mutex
	state State
}

// State reports the current lifecycle step.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == "" {
		return StateStart
	}
	return l.state
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run executes the lifecycle once. The first failure is logged through the
// active logging, remote included, and returned as the same value. The remote
// sink, when one was opened, is removed from process logging and closed
// exactly once on every path; a close failure is logged locally and never
// returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.Logging == nil {
		l.Logging = logging.New(logging.Config{})
	}
	l.setState(StateStart)

	restoreLocal := l.Logging.Activate()
	restoreRemote := func() {}
	var sink LogSink
	defer func() {
		restoreRemote()
		if sink != nil {
			if err := sink.Close(); err != nil {
				l.Logging.Local().Warn("close remote log sink", "code", apperrors.CodeCleanup, "err", err)
			}
		}
		restoreLocal()
	}()

	loggingDescriptor, ok, err := l.Locator.ResolveOptional(discovery.LoggingDescriptorEnv)
	if err != nil {
		return l.fail(err)
	}
	if ok {
		if l.OpenSink == nil {
			return l.fail(apperrors.New(apperrors.CodeConfiguration, "remote log sink is not configured"))
		}
		opened, err := l.OpenSink(ctx, loggingDescriptor)
		if err != nil {
			return l.fail(err)
		}
		sink = opened
		restoreRemote = l.Logging.Install(sink.Handler())
		l.setState(StateLoggingConfigured)
	}

	slog.Info("sdk harness started", "remote_logging", ok)

	controlDescriptor, err := l.Locator.Resolve(discovery.ControlDescriptorEnv)
	if err != nil {
		return l.fail(err)
	}
	if l.Runner == nil {
		return l.fail(apperrors.New(apperrors.CodeHarnessExecution, "harness runner is not configured"))
	}

	l.setState(StateRunning)
	if err := l.Runner.Run(ctx, controlDescriptor); err != nil {
		return l.fail(err)
	}

	slog.Info("sdk harness exiting")
	l.setState(StateDone)
	return nil
}

func (l *Lifecycle) fail(err error) error {
	l.setState(StateFailed)
	slog.Error("sdk harness failed", "code", apperrors.CodeOf(err), "err", err)
	return err
}
