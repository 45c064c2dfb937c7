// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess     = 0 // Operation completed successfully
	ExitGeneral     = 1 // Unknown/unhandled error
	ExitAttestation = 3 // Failed or unavailable attestation
	ExitNotFound    = 4 // Resource doesn't exist
)

// Error codes (strings) for programmatic error handling
const (
	CodeAttestationFailed   = "ATTESTATION_FAILED"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeDeviceQuarantined   = "DEVICE_QUARANTINED"
	CodeAttackUnsupported   = "ATTACK_UNSUPPORTED"
	CodeConnectionFailed    = "CONNECTION_FAILED"
	CodeSerialUnavailable   = "SERIAL_UNAVAILABLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// AttestationFailed creates an error for a failed attestation round.
func AttestationFailed(reason string) *CLIError {
	return &CLIError{
		Code:      CodeAttestationFailed,
		Message:   fmt.Sprintf("attestation verification failed: %s", reason),
		Hint:      "Inspect the PCR mismatch with 'flctl device <id>' and recover with 'flctl recover <id>'",
		Retryable: false,
		ExitCode:  ExitAttestation,
	}
}

// DeviceNotFound creates an error when a device doesn't exist.
func DeviceNotFound(id string) *CLIError {
	return &CLIError{
		Code:      CodeDeviceNotFound,
		Message:   fmt.Sprintf("device '%s' not found", id),
		Hint:      "Check the device ID with 'flctl devices'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// DeviceQuarantined creates an error for operations blocked by quarantine.
func DeviceQuarantined(id string) *CLIError {
	return &CLIError{
		Code:      CodeDeviceQuarantined,
		Message:   fmt.Sprintf("device '%s' is quarantined", id),
		Hint:      "Run 'flctl recover' to restore the factory baseline and release quarantine",
		Retryable: false,
		ExitCode:  ExitAttestation,
	}
}

// AttackUnsupported creates an error when attack injection is requested
// against real hardware.
func AttackUnsupported(id string) *CLIError {
	return &CLIError{
		Code:      CodeAttackUnsupported,
		Message:   fmt.Sprintf("device '%s' does not support attack injection", id),
		Hint:      "Attack injection only works against simulated devices",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// ConnectionFailed creates an error for verifier connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check that the verifier is running and the --server address is correct",
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// SerialUnavailable creates an error when the serial link cannot be opened.
func SerialUnavailable(port string, err error) *CLIError {
	return &CLIError{
		Code:      CodeSerialUnavailable,
		Message:   fmt.Sprintf("failed to open serial port '%s': %s", port, err),
		Hint:      "Check that the device is attached and the --port path is correct",
		Retryable: true,
		ExitCode:  ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
