package clierror

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		got      int
		expected int
	}{
		{"ExitSuccess", ExitSuccess, 0},
		{"ExitGeneral", ExitGeneral, 1},
		{"ExitAttestation", ExitAttestation, 3},
		{"ExitNotFound", ExitNotFound, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestCLIError_Error(t *testing.T) {
	t.Parallel()
	err := &CLIError{
		Code:    CodeDeviceNotFound,
		Message: "device 'FL-2847-AF' not found",
	}

	if err.Error() != "device 'FL-2847-AF' not found" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAttestationFailed(t *testing.T) {
	t.Parallel()
	err := AttestationFailed("PCR_MISMATCH")

	if err.Code != CodeAttestationFailed {
		t.Errorf("Code = %q, want %q", err.Code, CodeAttestationFailed)
	}
	if err.ExitCode != ExitAttestation {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitAttestation)
	}
	if !strings.Contains(err.Message, "PCR_MISMATCH") {
		t.Errorf("Message should contain reason, got %q", err.Message)
	}
	if err.Retryable {
		t.Error("Retryable should be false for failed attestation")
	}
}

func TestDeviceNotFound(t *testing.T) {
	t.Parallel()
	err := DeviceNotFound("FL-2847-AF")

	if err.Code != CodeDeviceNotFound {
		t.Errorf("Code = %q, want %q", err.Code, CodeDeviceNotFound)
	}
	if err.ExitCode != ExitNotFound {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitNotFound)
	}
	if !strings.Contains(err.Message, "FL-2847-AF") {
		t.Errorf("Message should contain device id, got %q", err.Message)
	}
	if err.Retryable {
		t.Error("Retryable should be false for not found errors")
	}
}

func TestDeviceQuarantined(t *testing.T) {
	t.Parallel()
	err := DeviceQuarantined("FL-2847-AF")

	if err.Code != CodeDeviceQuarantined {
		t.Errorf("Code = %q, want %q", err.Code, CodeDeviceQuarantined)
	}
	if err.ExitCode != ExitAttestation {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitAttestation)
	}
	if err.Hint == "" {
		t.Error("Hint should not be empty")
	}
}

func TestAttackUnsupported(t *testing.T) {
	t.Parallel()
	err := AttackUnsupported("FL-9000-01")

	if err.Code != CodeAttackUnsupported {
		t.Errorf("Code = %q, want %q", err.Code, CodeAttackUnsupported)
	}
	if !strings.Contains(err.Message, "FL-9000-01") {
		t.Errorf("Message should contain device id, got %q", err.Message)
	}
	if err.Retryable {
		t.Error("Retryable should be false for attack injection errors")
	}
}

func TestConnectionFailed(t *testing.T) {
	t.Parallel()
	err := ConnectionFailed("http://localhost:8440")

	if err.Code != CodeConnectionFailed {
		t.Errorf("Code = %q, want %q", err.Code, CodeConnectionFailed)
	}
	if !strings.Contains(err.Message, "http://localhost:8440") {
		t.Errorf("Message should contain target, got %q", err.Message)
	}
	if !err.Retryable {
		t.Error("Retryable should be true for connection errors")
	}
}

func TestSerialUnavailable(t *testing.T) {
	t.Parallel()
	err := SerialUnavailable("/dev/ttyACM0", &testError{msg: "permission denied"})

	if err.Code != CodeSerialUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, CodeSerialUnavailable)
	}
	if !strings.Contains(err.Message, "/dev/ttyACM0") {
		t.Errorf("Message should contain port, got %q", err.Message)
	}
	if !strings.Contains(err.Message, "permission denied") {
		t.Errorf("Message should contain cause, got %q", err.Message)
	}
}

func TestInternalError(t *testing.T) {
	t.Parallel()
	err := InternalError(nil)

	if err.Code != CodeInternalError {
		t.Errorf("Code = %q, want %q", err.Code, CodeInternalError)
	}
	if err.Retryable {
		t.Error("Retryable should be false for internal errors")
	}

	err2 := InternalError(&testError{msg: "database locked"})
	if !strings.Contains(err2.Message, "database locked") {
		t.Errorf("Message should contain original error, got %q", err2.Message)
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func TestCLIError_JSONSerialization(t *testing.T) {
	t.Parallel()
	err := &CLIError{
		Code:      CodeDeviceNotFound,
		Message:   "device 'FL-2847-AF' not found",
		Hint:      "check the device id with 'flctl devices'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}

	data, jsonErr := json.Marshal(err)
	if jsonErr != nil {
		t.Fatalf("json.Marshal failed: %v", jsonErr)
	}

	var parsed map[string]interface{}
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		t.Fatalf("json.Unmarshal failed: %v", jsonErr)
	}

	if parsed["code"] != CodeDeviceNotFound {
		t.Errorf("JSON code = %v, want %v", parsed["code"], CodeDeviceNotFound)
	}
	if parsed["retryable"] != false {
		t.Errorf("JSON retryable = %v, want false", parsed["retryable"])
	}

	// ExitCode should NOT be in JSON (json:"-" tag)
	if _, exists := parsed["ExitCode"]; exists {
		t.Error("ExitCode should not be serialized to JSON")
	}
}

func TestCLIError_JSONSerialization_OmitEmptyHint(t *testing.T) {
	t.Parallel()
	err := InternalError(nil)

	data, jsonErr := json.Marshal(err)
	if jsonErr != nil {
		t.Fatalf("json.Marshal failed: %v", jsonErr)
	}

	var parsed map[string]interface{}
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		t.Fatalf("json.Unmarshal failed: %v", jsonErr)
	}

	if _, exists := parsed["hint"]; exists {
		t.Error("Empty hint should be omitted from JSON")
	}
}

func TestFormatError_JSON(t *testing.T) {
	t.Parallel()
	err := DeviceNotFound("FL-2847-AF")

	output := FormatError(err, "json")

	var parsed map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(output), &parsed); jsonErr != nil {
		t.Fatalf("FormatError(json) produced invalid JSON: %v\nOutput: %s", jsonErr, output)
	}
	if parsed["code"] != CodeDeviceNotFound {
		t.Errorf("JSON code = %v, want %v", parsed["code"], CodeDeviceNotFound)
	}
}

func TestFormatError_Table(t *testing.T) {
	t.Parallel()
	err := DeviceNotFound("FL-2847-AF")

	output := FormatError(err, "table")

	if strings.HasPrefix(output, "{") {
		t.Error("Table format should not produce JSON")
	}
	if !strings.Contains(output, "FL-2847-AF") {
		t.Errorf("Output should contain device id, got %q", output)
	}
	if !strings.Contains(output, CodeDeviceNotFound) {
		t.Errorf("Output should contain error code, got %q", output)
	}
	if !strings.Contains(output, err.Hint) {
		t.Errorf("Output should contain hint, got %q", output)
	}
}
