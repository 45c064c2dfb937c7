package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityNotice:
		return "NOTICE"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	EventChallengeIssued  EventType = "challenge.issued"
	EventAttestationPass  EventType = "attestation.pass"
	EventAttestationFail  EventType = "attestation.fail"
	EventDeviceQuarantine EventType = "device.quarantine"
	EventDeviceRecovered  EventType = "device.recovered"
	EventDeviceOffline    EventType = "device.offline"
	EventAttackInjected   EventType = "attack.injected"
)

// severityMap maps each event type to its syslog severity. Failures and
// deliberate tampering are warnings; routine flow is informational.
var severityMap = map[EventType]Severity{
	EventChallengeIssued:  SeverityInfo,
	EventAttestationPass:  SeverityInfo,
	EventAttestationFail:  SeverityWarning,
	EventDeviceQuarantine: SeverityWarning,
	EventDeviceRecovered:  SeverityNotice,
	EventDeviceOffline:    SeverityNotice,
	EventAttackInjected:   SeverityWarning,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning (fail-secure: treat unknowns as concerning).
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event represents a security-relevant audit event with structured fields.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	DeviceID  string
	Details   map[string]string
}

// NewChallengeIssued records a challenge handed to a device.
func NewChallengeIssued(deviceID, challengeID string) Event {
	return Event{
		Type:      EventChallengeIssued,
		Severity:  SeverityInfo,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details:   map[string]string{"challenge_id": challengeID},
	}
}

// NewAttestationPass records a successful verification.
func NewAttestationPass(deviceID string, latencyMS int64) Event {
	return Event{
		Type:      EventAttestationPass,
		Severity:  SeverityInfo,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details:   map[string]string{"latency_ms": strconv.FormatInt(latencyMS, 10)},
	}
}

// NewAttestationFail records a failed verification with its reason.
func NewAttestationFail(deviceID, reason string, latencyMS int64) Event {
	return Event{
		Type:      EventAttestationFail,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details: map[string]string{
			"reason":     reason,
			"latency_ms": strconv.FormatInt(latencyMS, 10),
		},
	}
}

// NewDeviceQuarantine records an escalation to quarantine.
func NewDeviceQuarantine(deviceID, reason string) Event {
	return Event{
		Type:      EventDeviceQuarantine,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details:   map[string]string{"reason": reason},
	}
}

// NewDeviceRecovered records a completed factory recovery.
func NewDeviceRecovered(deviceID, firmware string) Event {
	return Event{
		Type:      EventDeviceRecovered,
		Severity:  SeverityNotice,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details:   map[string]string{"firmware": firmware},
	}
}

// NewDeviceOffline records a lost device link.
func NewDeviceOffline(deviceID string) Event {
	return Event{
		Type:      EventDeviceOffline,
		Severity:  SeverityNotice,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
	}
}

// NewAttackInjected records deliberate test tampering of a register.
func NewAttackInjected(deviceID string, register int) Event {
	return Event{
		Type:      EventAttackInjected,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		Details:   map[string]string{"register": strconv.Itoa(register)},
	}
}
