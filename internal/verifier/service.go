// Package verifier wires the attestation engine, device fleet, store,
// and event bus into the operations the API exposes.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/audit"
	"github.com/TeamMavericKX/firmlockv01/pkg/bus"
	"github.com/TeamMavericKX/firmlockv01/pkg/device"
	"github.com/TeamMavericKX/firmlockv01/pkg/lifecycle"
	"github.com/TeamMavericKX/firmlockv01/pkg/store"
)

// ErrUnknownDevice is returned for operations on a device id that is
// not registered.
var ErrUnknownDevice = errors.New("verifier: unknown device")

// ErrNoAttackInjection is returned when attack simulation is requested
// on a device that does not support fault injection.
var ErrNoAttackInjection = errors.New("verifier: device does not support attack injection")

// AttackInjector is implemented by devices that can deliberately
// corrupt a measurement register for demos and tests.
type AttackInjector interface {
	SimulateAttack()
}

// Service coordinates the verification loop end to end: challenge
// issuance, evidence verification, lifecycle transitions, logging, and
// event fan-out.
type Service struct {
	store  *store.Store
	engine *attest.Engine
	fleet  *lifecycle.Manager
	broker *bus.Broker
	audit  audit.EventEmitter
	logger *slog.Logger

	mu          sync.Mutex
	devices     map[string]device.Device
	outstanding map[string]*attest.Challenge
}

// Option configures a Service.
type Option func(*Service)

// WithAudit sets the audit backend. Default is a slog emitter.
func WithAudit(e audit.EventEmitter) Option {
	return func(s *Service) { s.audit = e }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPolicy overrides the quarantine escalation policy.
func WithPolicy(p lifecycle.Policy) Option {
	return func(s *Service) { s.fleet = lifecycle.NewManager(s.store, p) }
}

// New builds a service over an opened store.
func New(st *store.Store, broker *bus.Broker, opts ...Option) *Service {
	s := &Service{
		store:       st,
		engine:      attest.NewEngine(st, st),
		fleet:       lifecycle.NewManager(st, lifecycle.DefaultPolicy()),
		broker:      broker,
		logger:      slog.Default(),
		devices:     make(map[string]device.Device),
		outstanding: make(map[string]*attest.Challenge),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewSlogEmitter(s.logger)
	}
	return s
}

// Engine exposes the attestation engine, mainly so callers can tune the
// freshness window from config.
func (s *Service) Engine() *attest.Engine {
	return s.engine
}

// RegisterDevice connects a device, records it in the registry, and
// provisions its golden baseline from the first observed bank when none
// exists yet.
func (s *Service) RegisterDevice(ctx context.Context, dev device.Device) (*lifecycle.Record, error) {
	if err := dev.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect device: %w", err)
	}
	info, err := dev.Info()
	if err != nil {
		return nil, fmt.Errorf("read device info: %w", err)
	}
	bank, err := dev.PCRBank()
	if err != nil {
		return nil, fmt.Errorf("read pcr bank: %w", err)
	}

	rec, err := s.fleet.Register(lifecycle.RecordSeed{
		DeviceID:        info.DeviceID,
		FirmwareVersion: info.FirmwareVersion,
		Simulated:       info.Simulated,
		PCRs:            &bank,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GoldenPCRs(info.DeviceID); errors.Is(err, attest.ErrNoBaseline) {
		if err := s.store.SetGoldenPCRs(info.DeviceID, bank); err != nil {
			return nil, fmt.Errorf("provision golden baseline: %w", err)
		}
		s.logger.Info("golden baseline provisioned", "device", info.DeviceID)
	} else if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.devices[info.DeviceID] = dev
	s.mu.Unlock()

	s.logger.Info("device registered",
		"device", info.DeviceID,
		"firmware", info.FirmwareVersion,
		"simulated", info.Simulated)
	return rec, nil
}

// GetDevice returns one device record.
func (s *Service) GetDevice(deviceID string) (*lifecycle.Record, error) {
	rec, err := s.store.GetDevice(deviceID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		return nil, ErrUnknownDevice
	}
	return rec, err
}

// ListDevices returns every registered device record.
func (s *Service) ListDevices() ([]*lifecycle.Record, error) {
	return s.store.ListDevices()
}

// IssueChallenge creates a challenge for the device and retains it so
// the evidence path can check the echoed nonce against it.
func (s *Service) IssueChallenge(deviceID string) (*attest.Challenge, error) {
	if _, err := s.GetDevice(deviceID); err != nil {
		return nil, err
	}

	ch, err := s.engine.IssueChallenge(deviceID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.outstanding[deviceID] = ch
	s.mu.Unlock()

	s.appendLog(&store.LogEntry{
		DeviceID:  deviceID,
		Timestamp: ch.IssuedAt,
		EventType: "challenge",
		Result:    "ISSUED",
	})
	s.audit.Emit(audit.NewChallengeIssued(deviceID, ch.ID))
	s.broker.Publish(bus.Event{
		Type:     bus.EventChallengeCreated,
		DeviceID: deviceID,
		Data:     map[string]any{"challenge_id": ch.ID},
	})
	return ch, nil
}

// SubmitEvidence verifies evidence against the retained challenge for
// the device, or a reconstructed one when no challenge is outstanding,
// then applies the verdict to the device record.
func (s *Service) SubmitEvidence(ev *attest.Evidence) (*attest.Verdict, *lifecycle.Record, error) {
	if _, err := s.GetDevice(ev.DeviceID); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	ch := s.outstanding[ev.DeviceID]
	delete(s.outstanding, ev.DeviceID)
	s.mu.Unlock()

	if ch == nil {
		ch = s.engine.ChallengeFor(ev)
	}

	verdict, err := s.engine.Verify(ev, ch)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.fleet.ApplyVerdict(ev.DeviceID, verdict, ev.PCRs)
	if err != nil {
		return nil, nil, err
	}
	if verdict.Outcome == attest.OutcomeFail && rec.Status == lifecycle.StatusQuarantined {
		verdict.Outcome = attest.OutcomeQuarantine
	}

	s.finishVerification(ev.DeviceID, verdict, rec)
	return verdict, rec, nil
}

// Attest runs the full loop against a registered device: issue a
// challenge, collect evidence over the device link, and verify it. A
// device that fails to answer is marked offline.
func (s *Service) Attest(ctx context.Context, deviceID string) (*attest.Verdict, *lifecycle.Record, error) {
	dev, err := s.deviceHandle(deviceID)
	if err != nil {
		return nil, nil, err
	}

	ch, err := s.IssueChallenge(deviceID)
	if err != nil {
		return nil, nil, err
	}

	ev, err := dev.Attest(ch.Nonce, uint32(ch.IssuedAt.Unix()))
	if err != nil {
		if rec, offErr := s.fleet.MarkOffline(deviceID); offErr == nil {
			s.audit.Emit(audit.NewDeviceOffline(deviceID))
			s.logger.Warn("device offline", "device", deviceID, "status", rec.Status, "error", err)
		}
		return nil, nil, fmt.Errorf("collect evidence: %w", err)
	}
	return s.SubmitEvidence(ev)
}

// TriggerRecovery restores the device to its factory state and
// transitions the record back to healthy.
func (s *Service) TriggerRecovery(deviceID string) (*lifecycle.Record, error) {
	dev, err := s.deviceHandle(deviceID)
	if err != nil {
		return nil, err
	}

	if err := dev.Recover(); err != nil {
		return nil, fmt.Errorf("device recovery: %w", err)
	}

	golden, err := s.store.GoldenPCRs(deviceID)
	if err != nil {
		return nil, fmt.Errorf("load golden baseline: %w", err)
	}

	rec, err := s.fleet.CompleteRecovery(deviceID, golden)
	if err != nil {
		return nil, err
	}

	s.appendLog(&store.LogEntry{
		DeviceID:  deviceID,
		EventType: "recovery",
		Result:    "OK",
	})
	s.audit.Emit(audit.NewDeviceRecovered(deviceID, rec.FirmwareVersion))
	s.broker.Publish(bus.Event{
		Type:     bus.EventDeviceRecovered,
		DeviceID: deviceID,
		Data:     map[string]any{"firmware": rec.FirmwareVersion},
	})
	s.logger.Info("device recovered", "device", deviceID, "firmware", rec.FirmwareVersion)
	return rec, nil
}

// SimulateAttack corrupts a measurement register on a device that
// supports fault injection, then runs an attestation so the tampering
// is observed and recorded.
func (s *Service) SimulateAttack(ctx context.Context, deviceID string) (*attest.Verdict, *lifecycle.Record, error) {
	dev, err := s.deviceHandle(deviceID)
	if err != nil {
		return nil, nil, err
	}
	injector, ok := dev.(AttackInjector)
	if !ok {
		return nil, nil, ErrNoAttackInjection
	}

	injector.SimulateAttack()
	s.appendLog(&store.LogEntry{
		DeviceID:  deviceID,
		EventType: "attack",
		Result:    "INJECTED",
	})
	s.audit.Emit(audit.NewAttackInjected(deviceID, 1))
	s.broker.Publish(bus.Event{
		Type:     bus.EventAttackDetected,
		DeviceID: deviceID,
		Data:     map[string]any{"register": 1},
	})
	s.logger.Warn("attack injected", "device", deviceID, "register", 1)

	return s.Attest(ctx, deviceID)
}

// Logs returns recent attestation log entries for a device.
func (s *Service) Logs(deviceID string, limit int) ([]*store.LogEntry, error) {
	if _, err := s.GetDevice(deviceID); err != nil {
		return nil, err
	}
	return s.store.Logs(deviceID, limit)
}

// Metrics returns fleet and attestation counters.
func (s *Service) Metrics() (*store.Metrics, error) {
	return s.store.CollectMetrics()
}

// StartNonceSweeper purges expired nonces on the given interval until
// the context is cancelled.
func (s *Service) StartNonceSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-s.engine.FreshnessWindow)
				n, err := s.store.PurgeNonces(cutoff)
				if err != nil {
					s.logger.Error("nonce sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Debug("purged expired nonces", "count", n)
				}
			}
		}
	}()
}

// finishVerification records the verdict in the log, audit stream, and
// event bus.
func (s *Service) finishVerification(deviceID string, v *attest.Verdict, rec *lifecycle.Record) {
	s.appendLog(&store.LogEntry{
		DeviceID:  deviceID,
		Timestamp: v.Timestamp,
		EventType: "attestation",
		Result:    string(v.Outcome),
		Reason:    string(v.Reason),
		LatencyMS: v.Latency.Milliseconds(),
		PCRMatch:  v.PCRMatch,
	})

	latencyMS := v.Latency.Milliseconds()
	switch v.Outcome {
	case attest.OutcomePass:
		s.audit.Emit(audit.NewAttestationPass(deviceID, latencyMS))
	case attest.OutcomeQuarantine:
		s.audit.Emit(audit.NewAttestationFail(deviceID, string(v.Reason), latencyMS))
		s.audit.Emit(audit.NewDeviceQuarantine(deviceID, string(v.Reason)))
	default:
		s.audit.Emit(audit.NewAttestationFail(deviceID, string(v.Reason), latencyMS))
	}

	s.broker.Publish(bus.Event{
		Type:     bus.EventAttestationComplete,
		DeviceID: deviceID,
		Data: map[string]any{
			"result":     string(v.Outcome),
			"reason":     string(v.Reason),
			"pcr_match":  v.PCRMatch,
			"latency_ms": latencyMS,
			"status":     string(rec.Status),
		},
	})

	s.logger.Info("attestation complete",
		"device", deviceID,
		"result", string(v.Outcome),
		"reason", string(v.Reason),
		"status", string(rec.Status),
		"latency_ms", latencyMS)
}

func (s *Service) deviceHandle(deviceID string) (device.Device, error) {
	s.mu.Lock()
	dev, ok := s.devices[deviceID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownDevice
	}
	return dev, nil
}

// appendLog writes a log row, logging failures instead of propagating;
// a broken log must not abort verification.
func (s *Service) appendLog(e *store.LogEntry) {
	if err := s.store.AppendLog(e); err != nil {
		s.logger.Error("append attestation log failed", "device", e.DeviceID, "error", err)
	}
}
