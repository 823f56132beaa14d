// Package timeouts defines shared timeout constants used by the harness
// process. Centralizing these values keeps dial and flush bounds consistent
// between the control and logging connections.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the control or logging endpoint.
const GRPCDial = 2 * time.Second

// HealthProbe caps a single gRPC health check call.
const HealthProbe = time.Second

// LogFlush limits how long closing the remote log sink waits for buffered
// records to be sent.
const LogFlush = 5 * time.Second

// LogBatch is the longest a log record waits in the sink before it is sent.
const LogBatch = 200 * time.Millisecond

// Shutdown limits how long telemetry providers may take to flush on exit.
const Shutdown = 5 * time.Second
