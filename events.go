package securekit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted through the dispatcher.
const (
	eventLoginSuccess          = "login_success"
	eventLoginFailure          = "login_failure"
	eventLoginLocked           = "login_locked"
	eventLockoutTriggered      = "lockout_triggered"
	eventLockoutCleared        = "lockout_cleared"
	eventSessionStarted        = "session_started"
	eventForcedLogout          = "forced_logout"
	eventSignOutFailed         = "sign_out_failed"
	eventTOTPSetupRequested    = "totp_setup_requested"
	eventTOTPEnabled           = "totp_enabled"
	eventVerifySuccess         = "verify_success"
	eventVerifyFailure         = "verify_failure"
	eventVerifyRateLimited     = "verify_rate_limited"
	eventBackupCodesGenerated  = "backup_codes_generated"
	eventCodeSent              = "code_sent"
	eventCodeDeliveryFailed    = "code_delivery_failed"
	eventMFADisabled           = "mfa_disabled"
	eventAlertRaised           = "alert_raised"
	eventAlertSuppressed       = "alert_suppressed"
	eventIntegrityCheckFailed  = "integrity_check_failed"
	eventMonitorResponseFailed = "monitor_response_failed"
)

// Event is a single security-relevant occurrence emitted by the engine. The
// engine never awaits sink completion; emission is fire-and-forget through a
// buffered dispatcher.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSink receives dispatched events. Implementations must tolerate
// concurrent calls from the dispatcher goroutine.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events onto a buffered channel for the host
// application to drain.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

// Emit blocks until the event is buffered or the context is done.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the wrapped writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink wraps w; the sink serializes writes internally.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit marshals and writes the event, silently dropping it on marshal or
// write failure.
func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
