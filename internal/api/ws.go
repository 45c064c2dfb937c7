package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TeamMavericKX/firmlockv01/internal/verifier"
	"github.com/TeamMavericKX/firmlockv01/pkg/bus"
	"github.com/TeamMavericKX/firmlockv01/pkg/netutil"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The verifier serves a local dashboard; no origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// wsRequest is a client-initiated action on the socket.
type wsRequest struct {
	Action   string `json:"action"`
	DeviceID string `json:"device_id"`
}

// handleWebsocket upgrades the connection, streams broker events to the
// client, and serves request/response actions on the same socket.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("websocket client connected", "client", netutil.ClientIP(r))

	events, cancel := s.broker.Subscribe()
	defer cancel()

	// Writes come from both the event pump and action responses;
	// serialize them through one channel.
	outbound := make(chan any, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			outbound <- s.handleWSAction(r.Context(), &req)
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeWS(conn, ev); err != nil {
				return
			}
		case msg := <-outbound:
			if err := writeWS(conn, msg); err != nil {
				return
			}
		}
	}
}

// handleWSAction executes one socket action and returns the response
// message. Errors come back over the socket, not as closures.
func (s *Server) handleWSAction(ctx context.Context, req *wsRequest) any {
	switch req.Action {
	case "ping":
		return map[string]any{"type": "pong", "timestamp": time.Now().Unix()}

	case "get_devices":
		records, err := s.svc.ListDevices()
		if err != nil {
			return wsError(req.Action, err)
		}
		devices := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			devices = append(devices, deviceJSON(rec))
		}
		return map[string]any{"type": "devices", "devices": devices}

	case "trigger_attestation":
		verdict, rec, err := s.svc.Attest(ctx, req.DeviceID)
		if err != nil {
			return wsError(req.Action, err)
		}
		return map[string]any{
			"type":      bus.EventAttestationComplete,
			"device_id": req.DeviceID,
			"data":      verdictJSON(verdict, rec),
		}

	case "simulate_attack":
		verdict, rec, err := s.svc.SimulateAttack(ctx, req.DeviceID)
		if err != nil {
			return wsError(req.Action, err)
		}
		return map[string]any{
			"type":      bus.EventAttackDetected,
			"device_id": req.DeviceID,
			"data":      verdictJSON(verdict, rec),
		}

	case "trigger_recovery":
		rec, err := s.svc.TriggerRecovery(req.DeviceID)
		if err != nil {
			return wsError(req.Action, err)
		}
		return map[string]any{
			"type":      bus.EventDeviceRecovered,
			"device_id": req.DeviceID,
			"data":      deviceJSON(rec),
		}

	default:
		return wsError(req.Action, errors.New("unknown action"))
	}
}

func wsError(action string, err error) map[string]any {
	msg := err.Error()
	if errors.Is(err, verifier.ErrUnknownDevice) {
		msg = "device not found"
	}
	return map[string]any{"type": "error", "action": action, "error": msg}
}

func writeWS(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
