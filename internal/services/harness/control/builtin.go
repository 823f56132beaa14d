package control

import (
	"context"

	"github.com/louisbranch/sdkharness/internal/services/harness/fnapi"
)

// Built-in instruction kinds.
const (
	KindStatus   = "status"
	KindRegister = "register"
)

func (h *Harness) status(context.Context, fnapi.Instruction) (map[string]any, error) {
	return map[string]any{
		"worker_id": h.opts.WorkerID,
		// The status instruction itself is in flight.
		"in_flight": h.inFlight.Load(),
		"handled":   h.handled.Load(),
	}, nil
}

func (h *Harness) register(context.Context, fnapi.Instruction) (map[string]any, error) {
	return map[string]any{
		"worker_id":  h.opts.WorkerID,
		"registered": true,
	}, nil
}
