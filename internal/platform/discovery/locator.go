package discovery

import (
	"os"
	"strings"

	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
)

const (
	// ControlDescriptorEnv names the mandatory control-plane descriptor.
	ControlDescriptorEnv = "CONTROL_API_SERVICE_DESCRIPTOR"
	// LoggingDescriptorEnv names the optional logging service descriptor.
	LoggingDescriptorEnv = "LOGGING_API_SERVICE_DESCRIPTOR"
)

// LookupFunc reports the value of an environment variable and whether it is set.
type LookupFunc func(name string) (string, bool)

// Locator resolves descriptors from environment configuration.
type Locator struct {
	// Lookup defaults to os.LookupEnv.
	Lookup LookupFunc
}

// EnvLocator returns a locator backed by the process environment.
func EnvLocator() Locator {
	return Locator{Lookup: os.LookupEnv}
}

// MapLocator returns a locator backed by a fixed set of variables.
func MapLocator(vars map[string]string) Locator {
	return Locator{Lookup: func(name string) (string, bool) {
		value, ok := vars[name]
		return value, ok
	}}
}

// Resolve parses the descriptor held by the named variable. A missing, blank
// or malformed value is a configuration error.
func (l Locator) Resolve(name string) (Descriptor, error) {
	value, ok := l.lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return Descriptor{}, apperrors.WithMetadata(
			apperrors.CodeConfiguration,
			name+" is not set",
			map[string]string{"env": name},
		)
	}
	return parseVar(name, value)
}

// ResolveOptional parses the descriptor held by the named variable when it is
// set. ok is false when the variable is absent; a present but malformed value
// is still a configuration error.
func (l Locator) ResolveOptional(name string) (d Descriptor, ok bool, err error) {
	value, found := l.lookup(name)
	if !found || strings.TrimSpace(value) == "" {
		return Descriptor{}, false, nil
	}
	d, err = parseVar(name, value)
	if err != nil {
		return Descriptor{}, false, err
	}
	return d, true, nil
}

func (l Locator) lookup(name string) (string, bool) {
	if l.Lookup == nil {
		return os.LookupEnv(name)
	}
	return l.Lookup(name)
}

func parseVar(name, value string) (Descriptor, error) {
	d, err := ParseDescriptor(value)
	if err != nil {
		return Descriptor{}, apperrors.WrapWithMetadata(
			apperrors.CodeConfiguration,
			"parse "+name,
			map[string]string{"env": name},
			err,
		)
	}
	return d, nil
}
