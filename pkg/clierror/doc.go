// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. This separates internal error details from
// what gets displayed to operators.
//
// # Usage
//
//	if errors.Is(err, verifier.ErrUnknownDevice) {
//	    return clierror.DeviceNotFound(id)
//	}
package clierror
