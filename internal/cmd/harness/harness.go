// Package harness parses harness command flags and launches the harness
// lifecycle.
package harness

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/google/uuid"

	entrypoint "github.com/louisbranch/sdkharness/internal/platform/cmd"
	"github.com/louisbranch/sdkharness/internal/platform/otel"
	harnessapp "github.com/louisbranch/sdkharness/internal/services/harness/app"
)

// Config holds harness command configuration. The control and logging
// descriptors are read by the lifecycle itself.
type Config struct {
	WorkerID                  string        `env:"SDK_HARNESS_WORKER_ID"`
	DialTimeout               time.Duration `env:"SDK_HARNESS_DIAL_TIMEOUT" envDefault:"2s"`
	HealthCheck               bool          `env:"SDK_HARNESS_HEALTH_CHECK" envDefault:"false"`
	MaxConcurrentInstructions int           `env:"SDK_HARNESS_MAX_CONCURRENT_INSTRUCTIONS" envDefault:"4"`
	JournalPath               string        `env:"SDK_HARNESS_JOURNAL_PATH"`
	LogFlushTimeout           time.Duration `env:"SDK_HARNESS_LOG_FLUSH_TIMEOUT" envDefault:"5s"`
	LogFormat                 string        `env:"SDK_HARNESS_LOG_FORMAT" envDefault:"text"`
	Telemetry                 otel.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.WorkerID, "worker-id", cfg.WorkerID, "Worker id sent to the orchestrator (random when empty)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Control and logging service dial timeout")
	fs.BoolVar(&cfg.HealthCheck, "health-check", cfg.HealthCheck, "Wait for the control service health check before streaming")
	fs.IntVar(&cfg.MaxConcurrentInstructions, "max-concurrent-instructions", cfg.MaxConcurrentInstructions, "Instructions handled in parallel")
	fs.StringVar(&cfg.JournalPath, "journal-path", cfg.JournalPath, "SQLite instruction journal path (disabled when empty)")
	fs.DurationVar(&cfg.LogFlushTimeout, "log-flush-timeout", cfg.LogFlushTimeout, "Bound on flushing remote logs at exit")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Local log format: text or json")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the harness lifecycle with telemetry configured.
func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.WorkerID) == "" {
		cfg.WorkerID = uuid.NewString()
	}
	telemetry := cfg.Telemetry
	telemetry.InstanceID = cfg.WorkerID

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHarness, entrypoint.RunOptions{Telemetry: telemetry}, func(ctx context.Context) error {
		return harnessapp.Run(ctx, harnessapp.RuntimeConfig{
			WorkerID:                  cfg.WorkerID,
			DialTimeout:               cfg.DialTimeout,
			HealthCheck:               cfg.HealthCheck,
			MaxConcurrentInstructions: cfg.MaxConcurrentInstructions,
			JournalPath:               cfg.JournalPath,
			LogFlushTimeout:           cfg.LogFlushTimeout,
			LogFormat:                 cfg.LogFormat,
		})
	})
}
