// Package main starts the SDK harness process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	harnesscmd "github.com/louisbranch/sdkharness/internal/cmd/harness"
	"github.com/louisbranch/sdkharness/internal/platform/config"
)

func main() {
	cfg, err := harnesscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := harnesscmd.Run(ctx, cfg); err != nil {
		stop()
		config.Exitf("sdk harness: %v", err)
	}
}
