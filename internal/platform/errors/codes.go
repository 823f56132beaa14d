// Package errors provides the typed failure kinds surfaced by the harness process.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no harness code.
	CodeUnknown Code = "UNKNOWN"

	// CodeConfiguration marks a missing or unparsable connection descriptor
	// or an invalid environment setting.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeUnsupportedAuthentication marks a descriptor that requests a
	// credential grant this process cannot perform.
	CodeUnsupportedAuthentication Code = "UNSUPPORTED_AUTHENTICATION"

	// CodeHarnessExecution marks a failure raised while building or running
	// the worker harness.
	CodeHarnessExecution Code = "HARNESS_EXECUTION"

	// CodeUnknownInstruction marks a control-plane instruction whose kind has
	// no registered handler. It is reported back on the control stream.
	CodeUnknownInstruction Code = "UNKNOWN_INSTRUCTION"

	// CodeCleanup marks a failure while releasing the remote log sink. It is
	// only ever logged.
	CodeCleanup Code = "CLEANUP"
)

// Fatal reports whether errors with this code end the process.
func (c Code) Fatal() bool {
	return c != CodeCleanup && c != CodeUnknownInstruction
}
