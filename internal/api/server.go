package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/TeamMavericKX/firmlockv01/internal/verifier"
	"github.com/TeamMavericKX/firmlockv01/internal/version"
	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/bus"
	"github.com/TeamMavericKX/firmlockv01/pkg/lifecycle"
	"github.com/TeamMavericKX/firmlockv01/pkg/netutil"
	"github.com/TeamMavericKX/firmlockv01/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	svc    *verifier.Service
	broker *bus.Broker
	logger *slog.Logger
}

// NewServer creates an API server over the verifier service.
func NewServer(svc *verifier.Service, broker *bus.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, broker: broker, logger: logger}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	mux.HandleFunc("GET /api/devices/{id}/logs", s.handleLogs)
	mux.HandleFunc("POST /api/devices/{id}/challenge", s.handleChallenge)
	mux.HandleFunc("POST /api/devices/{id}/evidence", s.handleEvidence)
	mux.HandleFunc("POST /api/devices/{id}/attest", s.handleAttest)
	mux.HandleFunc("POST /api/devices/{id}/recover", s.handleRecover)
	mux.HandleFunc("POST /api/devices/{id}/attack", s.handleAttack)

	mux.HandleFunc("GET /ws", s.handleWebsocket)
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "firmlock-verifier",
		"version": version.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Metrics()
	if err != nil {
		writeInternalError(w, r, err, "failed to collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListDevices()
	if err != nil {
		writeInternalError(w, r, err, "failed to list devices")
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, deviceJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetDevice(r.PathValue("id"))
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, deviceJSON(rec))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.svc.Logs(r.PathValue("id"), limit)
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "failed to load logs")
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, logJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := s.svc.IssueChallenge(r.PathValue("id"))
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "failed to issue challenge")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"challenge_id": ch.ID,
		"device_id":    ch.DeviceID,
		"nonce":        hex.EncodeToString(ch.Nonce),
		"issued_at":    ch.IssuedAt.Unix(),
		"timestamp":    uint32(ch.IssuedAt.Unix()),
	})
}

// evidenceRequest is the JSON shape of a submitted evidence bundle.
// Binary fields are hex-encoded.
type evidenceRequest struct {
	Nonce       string         `json:"nonce"`
	Timestamp   uint32         `json:"timestamp"`
	PCRs        map[int]string `json:"pcrs"`
	Signature   string         `json:"signature"`
	Certificate string         `json:"certificate"`
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := evidenceFromRequest(deviceID, &req)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	verdict, rec, err := s.svc.SubmitEvidence(ev)
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, verdictJSON(verdict, rec))
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	verdict, rec, err := s.svc.Attest(r.Context(), r.PathValue("id"))
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "attestation failed")
		return
	}
	writeJSON(w, http.StatusOK, verdictJSON(verdict, rec))
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.TriggerRecovery(r.PathValue("id"))
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "recovery failed")
		return
	}
	writeJSON(w, http.StatusOK, deviceJSON(rec))
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	verdict, rec, err := s.svc.SimulateAttack(r.Context(), r.PathValue("id"))
	if errors.Is(err, verifier.ErrUnknownDevice) {
		writeError(w, r, http.StatusNotFound, "device not found")
		return
	}
	if errors.Is(err, verifier.ErrNoAttackInjection) {
		writeError(w, r, http.StatusConflict, "device does not support attack injection")
		return
	}
	if err != nil {
		writeInternalError(w, r, err, "attack injection failed")
		return
	}
	writeJSON(w, http.StatusOK, verdictJSON(verdict, rec))
}

func evidenceFromRequest(deviceID string, req *evidenceRequest) (*attest.Evidence, error) {
	nonce, err := hex.DecodeString(req.Nonce)
	if err != nil || len(nonce) != attest.NonceSize {
		return nil, errors.New("invalid nonce")
	}

	data := make([]byte, 0, attest.NumPCRs*attest.PCRSize)
	for i := 0; i < attest.NumPCRs; i++ {
		v, err := hex.DecodeString(req.PCRs[i])
		if err != nil || len(v) != attest.PCRSize {
			return nil, errors.New("invalid pcr register " + strconv.Itoa(i))
		}
		data = append(data, v...)
	}
	bank, err := attest.ParsePCRBank(data)
	if err != nil {
		return nil, err
	}

	var signature, certificate []byte
	if req.Signature != "" {
		if signature, err = hex.DecodeString(req.Signature); err != nil {
			return nil, errors.New("invalid signature")
		}
	}
	if req.Certificate != "" {
		if certificate, err = hex.DecodeString(req.Certificate); err != nil {
			return nil, errors.New("invalid certificate")
		}
	}

	return &attest.Evidence{
		DeviceID:    deviceID,
		Nonce:       nonce,
		Timestamp:   req.Timestamp,
		PCRs:        bank,
		Signature:   signature,
		Certificate: certificate,
	}, nil
}

func deviceJSON(rec *lifecycle.Record) map[string]any {
	out := map[string]any{
		"device_id":        rec.DeviceID,
		"status":           string(rec.Status),
		"firmware_version": rec.FirmwareVersion,
		"simulated":        rec.Simulated,
		"pcrs":             rec.PCRs.HexMap(),
	}
	if !rec.LastAttestation.IsZero() {
		out["last_attestation"] = rec.LastAttestation.Unix()
	}
	if rec.LastReason != attest.ReasonNone {
		out["last_reason"] = string(rec.LastReason)
	}
	return out
}

func verdictJSON(v *attest.Verdict, rec *lifecycle.Record) map[string]any {
	out := map[string]any{
		"result":     string(v.Outcome),
		"pcr_match":  v.PCRMatch,
		"latency_ms": v.Latency.Milliseconds(),
		"timestamp":  v.Timestamp.Unix(),
		"status":     string(rec.Status),
	}
	if v.Reason != attest.ReasonNone {
		out["reason"] = string(v.Reason)
	}
	return out
}

func logJSON(e *store.LogEntry) map[string]any {
	out := map[string]any{
		"id":         e.ID,
		"device_id":  e.DeviceID,
		"timestamp":  e.Timestamp.Unix(),
		"event_type": e.EventType,
		"result":     e.Result,
		"latency_ms": e.LatencyMS,
	}
	if e.Reason != "" {
		out["reason"] = e.Reason
	}
	if e.PCRMatch != nil {
		out["pcr_match"] = e.PCRMatch
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	slog.Warn("request failed", "method", r.Method, "path", r.URL.Path, "client", netutil.ClientIP(r), "error", message)
	writeJSON(w, status, map[string]string{"error": message})
}

// writeInternalError logs the detailed error internally and returns a generic message to the client.
// Use this for errors that might leak implementation details.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error, genericMsg string) {
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "client", netutil.ClientIP(r), "msg", genericMsg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": genericMsg})
}
