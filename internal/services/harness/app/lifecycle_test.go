package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/louisbranch/sdkharness/internal/platform/discovery"
	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
	"github.com/louisbranch/sdkharness/internal/platform/logging"
	"github.com/louisbranch/sdkharness/internal/services/harness/runner"
)

// events records the order of lifecycle side effects.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, name)
}

func (e *events) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.Join(e.list, ",")
}

type recordingHandler struct {
	mu       *sync.Mutex
	messages *[]string
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.messages = append(*h.messages, r.Message)
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }

type fakeSink struct {
	events   *events
	closeErr error
	closes   int

	mu       sync.Mutex
	messages []string
}

func (s *fakeSink) Handler() slog.Handler {
	return recordingHandler{mu: &s.mu, messages: &s.messages}
}

func (s *fakeSink) Close() error {
	s.closes++
	s.events.add("sink.close")
	return s.closeErr
}

func (s *fakeSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

type fakeRunner struct {
	events      *events
	err         error
	calls       int
	descriptors []discovery.Descriptor
	onRun       func()
}

func (r *fakeRunner) Run(_ context.Context, d discovery.Descriptor) error {
	r.calls++
	r.descriptors = append(r.descriptors, d)
	r.events.add("harness.run")
	if r.onRun != nil {
		r.onRun()
	}
	return r.err
}

type fixture struct {
	events    *events
	sink      *fakeSink
	opens     int
	runner    *fakeRunner
	local     *bytes.Buffer
	lifecycle *Lifecycle
}

func newFixture(vars map[string]string) *fixture {
	f := &fixture{events: &events{}, local: &bytes.Buffer{}}
	f.sink = &fakeSink{events: f.events}
	f.runner = &fakeRunner{events: f.events}
	f.lifecycle = &Lifecycle{
		Locator: discovery.MapLocator(vars),
		Logging: logging.New(logging.Config{Output: f.local}),
		OpenSink: func(context.Context, discovery.Descriptor) (LogSink, error) {
			f.opens++
			f.events.add("sink.open")
			return f.sink, nil
		},
		Runner: f.runner,
	}
	return f
}

func TestLifecycleWithoutLoggingDescriptor(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
	})

	if err := f.lifecycle.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.opens != 0 {
		t.Fatalf("sink opens = %d, want 0", f.opens)
	}
	if f.runner.calls != 1 || f.runner.descriptors[0].URL != "localhost:9000" {
		t.Fatalf("runner calls = %d descriptors = %+v", f.runner.calls, f.runner.descriptors)
	}
	if f.lifecycle.State() != StateDone {
		t.Fatalf("state = %s, want %s", f.lifecycle.State(), StateDone)
	}
	for _, want := range []string{"sdk harness started", "sdk harness exiting"} {
		if !strings.Contains(f.local.String(), want) {
			t.Fatalf("local log missing %q:\n%s", want, f.local.String())
		}
	}
}

func TestLifecycleMissingControlDescriptor(t *testing.T) {
	f := newFixture(map[string]string{})

	err := f.lifecycle.Run(context.Background())
	if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
		t.Fatalf("code = %q (err %v)", code, err)
	}
	if f.runner.calls != 0 {
		t.Fatal("harness must not run without a control descriptor")
	}
	if f.opens != 0 {
		t.Fatal("no sink should be opened")
	}
	if f.lifecycle.State() != StateFailed {
		t.Fatalf("state = %s, want %s", f.lifecycle.State(), StateFailed)
	}
	if !strings.Contains(f.local.String(), "sdk harness failed") {
		t.Fatalf("failure not logged locally:\n%s", f.local.String())
	}
}

func TestLifecycleMalformedControlDescriptor(t *testing.T) {
	for _, value := range []string{"url: 'localhost:9000", "endpoint: 'x'", "url: ''", "{"} {
		t.Run(value, func(t *testing.T) {
			f := newFixture(map[string]string{discovery.ControlDescriptorEnv: value})

			err := f.lifecycle.Run(context.Background())
			if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
				t.Fatalf("code = %q (err %v)", code, err)
			}
			if f.runner.calls != 0 {
				t.Fatal("harness must not run for a malformed descriptor")
			}
		})
	}
}

func TestLifecycleMalformedLoggingDescriptor(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
		discovery.LoggingDescriptorEnv: "url 'localhost:9001'",
	})

	err := f.lifecycle.Run(context.Background())
	if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
		t.Fatalf("code = %q (err %v)", code, err)
	}
	if f.opens != 0 || f.runner.calls != 0 {
		t.Fatalf("opens = %d runner calls = %d, want none", f.opens, f.runner.calls)
	}
}

func TestLifecycleSinkWrapsHarnessRun(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
		discovery.LoggingDescriptorEnv: "url: 'localhost:9001'",
	})
	f.runner.onRun = func() {
		if f.lifecycle.State() != StateRunning {
			t.Errorf("state during run = %s", f.lifecycle.State())
		}
		if level := f.lifecycle.Logging.Level().Level(); level != slog.LevelInfo {
			t.Errorf("level during run = %v, want INFO", level)
		}
		slog.Info("processing bundle")
	}

	if err := f.lifecycle.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.events.String(); got != "sink.open,harness.run,sink.close" {
		t.Fatalf("events = %s", got)
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink closes = %d, want 1", f.sink.closes)
	}
	messages := strings.Join(f.sink.Messages(), "|")
	for _, want := range []string{"sdk harness started", "processing bundle", "sdk harness exiting"} {
		if !strings.Contains(messages, want) {
			t.Fatalf("remote missing %q: %s", want, messages)
		}
	}
}

func TestLifecycleReturnsHarnessErrorDespiteCleanupFailure(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
		discovery.LoggingDescriptorEnv: "url: 'localhost:9001'",
	})
	harnessErr := errors.New("worker lost control plane")
	f.runner.err = harnessErr
	f.sink.closeErr = errors.New("logging stream reset")

	err := f.lifecycle.Run(context.Background())
	if err != harnessErr {
		t.Fatalf("err = %v, want the harness error value", err)
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink closes = %d, want 1", f.sink.closes)
	}
	if !strings.Contains(strings.Join(f.sink.Messages(), "|"), "sdk harness failed") {
		t.Fatalf("failure not shipped remotely: %v", f.sink.Messages())
	}
	local := f.local.String()
	if !strings.Contains(local, "close remote log sink") || !strings.Contains(local, string(apperrors.CodeCleanup)) {
		t.Fatalf("cleanup failure not logged locally:\n%s", local)
	}
	if f.lifecycle.State() != StateFailed {
		t.Fatalf("state = %s, want %s", f.lifecycle.State(), StateFailed)
	}
}

func TestLifecycleClosesSinkWhenControlDescriptorMissing(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.LoggingDescriptorEnv: "url: 'localhost:9001'",
	})

	err := f.lifecycle.Run(context.Background())
	if code := apperrors.CodeOf(err); code != apperrors.CodeConfiguration {
		t.Fatalf("code = %q (err %v)", code, err)
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink closes = %d, want 1", f.sink.closes)
	}
	if f.runner.calls != 0 {
		t.Fatal("harness must not run")
	}
}

func TestLifecycleSinkOpenFailure(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
		discovery.LoggingDescriptorEnv: "url: 'localhost:9001'",
	})
	openErr := errors.New("logging service unavailable")
	f.lifecycle.OpenSink = func(context.Context, discovery.Descriptor) (LogSink, error) {
		return nil, openErr
	}

	if err := f.lifecycle.Run(context.Background()); err != openErr {
		t.Fatalf("err = %v, want open error", err)
	}
	if f.runner.calls != 0 {
		t.Fatal("harness must not run when the sink cannot open")
	}
}

func TestLifecycleRejectsAuthenticatedControlDescriptor(t *testing.T) {
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: `url: "localhost:9000" oauth2_client_credentials_grant { url: "https://auth.example.com/token" }`,
	})
	built := 0
	f.lifecycle.Runner = runner.Runner{New: func(string) (runner.Harness, error) {
		built++
		return nil, errors.New("unexpected build")
	}}

	err := f.lifecycle.Run(context.Background())
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnsupportedAuthentication {
		t.Fatalf("code = %q (err %v)", code, err)
	}
	if built != 0 {
		t.Fatalf("harness built %d times, want 0", built)
	}
}

func TestLifecycleRestoresProcessLogging(t *testing.T) {
	before := slog.Default()
	f := newFixture(map[string]string{
		discovery.ControlDescriptorEnv: "url: 'localhost:9000'",
		discovery.LoggingDescriptorEnv: "url: 'localhost:9001'",
	})

	if err := f.lifecycle.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if slog.Default() != before {
		t.Fatal("default logger not restored")
	}
	count := len(f.sink.Messages())
	slog.Info("after run")
	if len(f.sink.Messages()) != count {
		t.Fatal("records reached the sink after the run")
	}
}
