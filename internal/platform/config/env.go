// Package config loads process configuration and provides the fatal-exit
// helper used by command entry points.
package config

import (
	"github.com/caarlos0/env/v11"

	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
)

// ParseEnv loads configuration from the process environment.
func ParseEnv(target any) error {
	return parse(target, env.Options{})
}

// ParseEnvFrom loads configuration from vars instead of the process
// environment.
func ParseEnvFrom(target any, vars map[string]string) error {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(target, env.Options{Environment: vars})
}

func parse(target any, opts env.Options) error {
	if err := env.ParseWithOptions(target, opts); err != nil {
		return apperrors.Wrap(apperrors.CodeConfiguration, "parse env", err)
	}
	return nil
}
