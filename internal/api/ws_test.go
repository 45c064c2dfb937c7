package api

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeamMavericKX/firmlockv01/pkg/bus"
	"github.com/TeamMavericKX/firmlockv01/pkg/device"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketPing(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	msg := readWS(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestWebsocketGetDevices(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "get_devices"}))
	msg := readWS(t, conn)
	require.Equal(t, "devices", msg["type"])
	devices := msg["devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, device.DemoDeviceID, devices[0].(map[string]any)["device_id"])
}

func TestWebsocketTriggerAttestation(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"action":    "trigger_attestation",
		"device_id": device.DemoDeviceID,
	}))

	// The socket sees both the broadcast bus events and the action
	// response; wait for the response message.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readWS(t, conn)
		if msg["type"] == bus.EventAttestationComplete {
			if data, ok := msg["data"].(map[string]any); ok && data["result"] == "PASS" {
				return
			}
		}
	}
	t.Fatal("attestation response not received")
}

func TestWebsocketUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "self_destruct"}))
	msg := readWS(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestWebsocketBroadcastsBusEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	// An attestation triggered over HTTP shows up on the socket.
	_, _ = env.post(t, "/api/devices/"+device.DemoDeviceID+"/attest", nil)

	deadline := time.Now().Add(2 * time.Second)
	seen := map[string]bool{}
	for time.Now().Before(deadline) {
		msg := readWS(t, conn)
		seen[msg["type"].(string)] = true
		if seen[bus.EventChallengeCreated] && seen[bus.EventAttestationComplete] {
			return
		}
	}
	t.Fatalf("missing broadcast events, saw %v", seen)
}
