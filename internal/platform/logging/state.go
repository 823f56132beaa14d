// Package logging owns the process-wide logging state: the shared minimum
// level, the local handler, and the default slog logger that the standard
// log package is routed through.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the local handler encoding.
type Format string

const (
	// FormatText writes key=value lines.
	FormatText Format = "text"
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"
)

// Config describes the local logging output.
type Config struct {
	// Output defaults to os.Stderr.
	Output io.Writer
	// Format defaults to FormatText.
	Format Format
	// Level is the initial minimum level; zero is slog.LevelInfo.
	Level slog.Level
	// SetDefault publishes the process logger; defaults to slog.SetDefault.
	SetDefault func(*slog.Logger)
}

// State is the explicit handle on process-wide logging. The lifecycle is its
// only writer while it runs.
type State struct {
	mu         sync.Mutex
	level      *slog.LevelVar
	local      slog.Handler
	setDefault func(*slog.Logger)
	installed  bool
}

// New builds logging state from cfg without publishing anything.
func New(cfg Config) *State {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var local slog.Handler
	if cfg.Format == FormatJSON {
		local = slog.NewJSONHandler(out, opts)
	} else {
		local = slog.NewTextHandler(out, opts)
	}
	setDefault := cfg.SetDefault
	if setDefault == nil {
		setDefault = slog.SetDefault
	}
	return &State{level: level, local: local, setDefault: setDefault}
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(value string) Format {
	if strings.EqualFold(strings.TrimSpace(value), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// Level returns the shared minimum level.
func (s *State) Level() *slog.LevelVar {
	return s.level
}

// Local returns a logger that writes only to the local handler. It stays
// usable after a remote handler is removed.
func (s *State) Local() *slog.Logger {
	return slog.New(s.local)
}

// Activate publishes the local-only logger as the process default and returns
// a function restoring the previous default.
func (s *State) Activate() (restore func()) {
	return s.publish(s.local)
}

// Install publishes a logger that fans records out to the local handler and
// remote, and forces the minimum level to Info so remote observers receive
// startup and shutdown events. Only one remote handler may be installed at a
// time; restore removes it and puts back the previous default logger, the
// standard log output and flags, and the previous level.
func (s *State) Install(remote slog.Handler) (restore func()) {
	if remote == nil {
		return s.Activate()
	}
	s.mu.Lock()
	if s.installed {
		s.mu.Unlock()
		panic("logging: a remote handler is already installed")
	}
	s.installed = true
	s.mu.Unlock()

	prevLevel := s.level.Level()
	s.level.Set(slog.LevelInfo)
	release := s.publish(Fanout(s.local, remote))

	return func() {
		release()
		s.level.Set(prevLevel)
		s.mu.Lock()
		s.installed = false
		s.mu.Unlock()
	}
}

func (s *State) publish(h slog.Handler) (restore func()) {
	prevLogger := slog.Default()
	prevOut := log.Writer()
	prevFlags := log.Flags()
	prevPrefix := log.Prefix()

	s.setDefault(slog.New(h))
	// Records carry their own attributes; a log prefix would end up in the
	// message text.
	log.SetPrefix("")

	var once sync.Once
	return func() {
		once.Do(func() {
			s.setDefault(prevLogger)
			// slog.SetDefault leaves the log package pointed at the replaced
			// handler when the previous logger is the initial one.
			log.SetOutput(prevOut)
			log.SetFlags(prevFlags)
			log.SetPrefix(prevPrefix)
		})
	}
}
