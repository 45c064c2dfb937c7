package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/clierror"
)

// VerifierClient provides HTTP client access to the verifier API.
type VerifierClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVerifierClient creates a new client for the verifier API.
func NewVerifierClient(baseURL string) *VerifierClient {
	return &VerifierClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// deviceResponse matches the API response for device operations.
type deviceResponse struct {
	DeviceID        string            `json:"device_id"`
	Status          string            `json:"status"`
	FirmwareVersion string            `json:"firmware_version"`
	Simulated       bool              `json:"simulated"`
	PCRs            map[string]string `json:"pcrs"`
	LastAttestation *int64            `json:"last_attestation,omitempty"`
	LastReason      string            `json:"last_reason,omitempty"`
}

// verdictResponse matches the API response for attestation verdicts.
type verdictResponse struct {
	Result    string          `json:"result"`
	Reason    string          `json:"reason,omitempty"`
	PCRMatch  map[string]bool `json:"pcr_match"`
	LatencyMS int64           `json:"latency_ms"`
	Timestamp int64           `json:"timestamp"`
	Status    string          `json:"status"`
}

// logResponse matches a single attestation log entry.
type logResponse struct {
	ID        int64           `json:"id"`
	DeviceID  string          `json:"device_id"`
	Timestamp int64           `json:"timestamp"`
	EventType string          `json:"event_type"`
	Result    string          `json:"result"`
	Reason    string          `json:"reason,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
	PCRMatch  map[string]bool `json:"pcr_match,omitempty"`
}

// metricsResponse matches the API metrics snapshot.
type metricsResponse struct {
	Devices           int            `json:"devices"`
	DevicesByStatus   map[string]int `json:"devices_by_status"`
	Attestations      int            `json:"attestations"`
	AttestationsPass  int            `json:"attestations_pass"`
	AttestationsFail  int            `json:"attestations_fail"`
	OutstandingNonces int            `json:"outstanding_nonces"`
}

// ListDevices retrieves all registered devices from the verifier.
func (c *VerifierClient) ListDevices(ctx context.Context) ([]deviceResponse, error) {
	var out struct {
		Devices []deviceResponse `json:"devices"`
	}
	if err := c.get(ctx, "/api/devices", &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// GetDevice retrieves a single device by ID.
func (c *VerifierClient) GetDevice(ctx context.Context, id string) (*deviceResponse, error) {
	var out deviceResponse
	if err := c.get(ctx, "/api/devices/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attest runs a full attestation round against a device.
func (c *VerifierClient) Attest(ctx context.Context, id string) (*verdictResponse, error) {
	var out verdictResponse
	if err := c.post(ctx, "/api/devices/"+id+"/attest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recover resets a device's firmware to the factory baseline.
func (c *VerifierClient) Recover(ctx context.Context, id string) (*deviceResponse, error) {
	var out deviceResponse
	if err := c.post(ctx, "/api/devices/"+id+"/recover", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SimulateAttack tampers a simulated device's firmware and re-attests.
func (c *VerifierClient) SimulateAttack(ctx context.Context, id string) (*verdictResponse, error) {
	var out verdictResponse
	if err := c.post(ctx, "/api/devices/"+id+"/attack", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logs retrieves the attestation log for a device, newest first.
func (c *VerifierClient) Logs(ctx context.Context, id string, limit int) ([]logResponse, error) {
	path := "/api/devices/" + id + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Logs []logResponse `json:"logs"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Metrics retrieves the verifier metrics snapshot.
func (c *VerifierClient) Metrics(ctx context.Context) (*metricsResponse, error) {
	var out metricsResponse
	if err := c.get(ctx, "/api/metrics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *VerifierClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, http.StatusOK, out)
}

func (c *VerifierClient) post(ctx context.Context, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, http.StatusOK, out)
}

func (c *VerifierClient) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clierror.ConnectionFailed(c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.apiError(req, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError maps an error response to a structured CLI error. The device
// ID is recovered from the request path when the status calls for it.
func (c *VerifierClient) apiError(req *http.Request, resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	json.Unmarshal(body, &apiErr)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return clierror.DeviceNotFound(pathDeviceID(req.URL.Path))
	case http.StatusConflict:
		return clierror.AttackUnsupported(pathDeviceID(req.URL.Path))
	}
	if apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}

// pathDeviceID extracts the device ID segment from /api/devices/<id>[/...].
func pathDeviceID(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/devices/")
	if !ok {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}
