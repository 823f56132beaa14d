// Package storage defines the durable records kept by a harness worker.
package storage

import (
	"context"
	"time"
)

// Instruction outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// InstructionRecord is one handled control-plane instruction.
type InstructionRecord struct {
	ID            int64
	InstructionID string
	Kind          string
	WorkerID      string
	Outcome       string
	Error         string
	Duration      time.Duration
	CreatedAt     time.Time
}

// Journal persists handled instructions.
type Journal interface {
	RecordInstruction(ctx context.Context, record InstructionRecord) error
	ListInstructions(ctx context.Context, limit int) ([]InstructionRecord, error)
}
