package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/sdkharness/internal/platform/discovery"
	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
	"github.com/louisbranch/sdkharness/internal/platform/logging"
	"github.com/louisbranch/sdkharness/internal/platform/timeouts"
	"github.com/louisbranch/sdkharness/internal/services/harness/control"
	"github.com/louisbranch/sdkharness/internal/services/harness/logsink"
	"github.com/louisbranch/sdkharness/internal/services/harness/runner"
	"github.com/louisbranch/sdkharness/internal/services/harness/storage"
	"github.com/louisbranch/sdkharness/internal/services/harness/storage/sqlite"
)

// RuntimeConfig controls harness startup and its connections.
type RuntimeConfig struct {
	WorkerID                  string
	DialTimeout               time.Duration
	HealthCheck               bool
	MaxConcurrentInstructions int
	JournalPath               string
	LogFlushTimeout           time.Duration
	LogFormat                 string
	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer
	// Locator defaults to the process environment.
	Locator discovery.Locator
}

const defaultMaxConcurrentInstructions = 4

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	cfg.WorkerID = strings.TrimSpace(cfg.WorkerID)
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = timeouts.GRPCDial
	}
	if cfg.MaxConcurrentInstructions <= 0 {
		cfg.MaxConcurrentInstructions = defaultMaxConcurrentInstructions
	}
	if cfg.LogFlushTimeout <= 0 {
		cfg.LogFlushTimeout = timeouts.LogFlush
	}
	return cfg
}

// Run wires the remote log sink, the default control harness and the
// optional instruction journal into a Lifecycle and runs it.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	var journal storage.Journal
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return apperrors.Wrap(apperrors.CodeConfiguration, "create journal dir", err)
			}
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeConfiguration, "open instruction journal", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close instruction journal: %v", closeErr)
			}
		}()
		journal = store
	}

	lifecycle := &Lifecycle{
		Locator: cfg.Locator,
		Logging: logging.New(logging.Config{
			Output: cfg.LogOutput,
			Format: logging.ParseFormat(cfg.LogFormat),
		}),
		OpenSink: func(ctx context.Context, d discovery.Descriptor) (LogSink, error) {
			sink, err := logsink.Open(ctx, d, logsink.Options{
				WorkerID:     cfg.WorkerID,
				DialTimeout:  cfg.DialTimeout,
				FlushTimeout: cfg.LogFlushTimeout,
			})
			if err != nil {
				return nil, err
			}
			return sink, nil
		},
		Runner: runner.Runner{New: func(url string) (runner.Harness, error) {
			harness, err := control.New(url, control.Options{
				WorkerID:                  cfg.WorkerID,
				DialTimeout:               cfg.DialTimeout,
				HealthCheck:               cfg.HealthCheck,
				MaxConcurrentInstructions: cfg.MaxConcurrentInstructions,
				Journal:                   journal,
			})
			if err != nil {
				return nil, fmt.Errorf("new control harness: %w", err)
			}
			return harness, nil
		}},
	}
	return lifecycle.Run(ctx)
}
