package audit

import (
	"log/slog"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// SlogEmitter writes audit events to a structured logger. It is the
// default backend; syslog forwarding stacks on top via MultiEmitter.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter over the given logger. A nil logger
// falls back to slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event with its structured fields.
func (e *SlogEmitter) Emit(ev Event) error {
	attrs := make([]any, 0, 4+2*len(ev.Details))
	attrs = append(attrs,
		"severity", ev.Severity.String(),
		"device_id", ev.DeviceID,
	)
	for k, v := range ev.Details {
		attrs = append(attrs, k, v)
	}

	switch ev.Severity {
	case SeverityWarning:
		e.logger.Warn(string(ev.Type), attrs...)
	default:
		e.logger.Info(string(ev.Type), attrs...)
	}
	return nil
}

// MultiEmitter fans one event out to several backends. Emit errors are
// logged and swallowed; audit failures must not block verification.
type MultiEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewMultiEmitter composes backends into one emitter.
func NewMultiEmitter(logger *slog.Logger, backends ...EventEmitter) *MultiEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiEmitter{backends: backends, logger: logger}
}

// Emit forwards the event to every backend.
func (e *MultiEmitter) Emit(ev Event) error {
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
		}
	}
	return nil
}
