package securekit

import (
	"context"
	"errors"
	"time"

	"github.com/averagepojke/securekit/store"
)

// Engine is the assembled security core. Build one per process through
// [Builder]; every dependency is injected there, nothing is process-global.
//
// Engine instances are configured during construction and treated as
// immutable afterwards. All methods are safe for concurrent use.
type Engine struct {
	config   Config
	store    *store.Store
	clock    Clock
	provider IdentityProvider

	loginGuard *lockoutGuard
	mfaGuard   *lockoutGuard
	sessions   *sessionMonitor
	totp       *totpManager
	backup     *backupCodeManager
	oob        *oobManager
	monitor    *securityMonitor

	events  *eventDispatcher
	metrics *Metrics
}

// Start launches the background monitoring loops: the security monitor's
// periodic self-check and the initial device-integrity evaluation. Session
// validity checking starts separately with [Engine.StartSession]. Start is
// idempotent.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil || e.monitor == nil {
		return ErrEngineNotReady
	}
	e.monitor.start(ctx)
	return nil
}

// Close stops every background loop and drains the event dispatcher. Call it
// on logout or application exit; a stopped engine must not be reused.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sessions != nil {
		e.sessions.shutdown()
	}
	if e.monitor != nil {
		e.monitor.stop()
	}
	if e.events != nil {
		e.events.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of all counters. Zero-valued
// when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// EventsDropped reports how many events the dispatcher discarded because the
// buffer was full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.Dropped()
}

// DashboardSnapshot returns the stored alert window, per-type counts, and
// the dropped-event counter.
func (e *Engine) DashboardSnapshot(ctx context.Context) (*Dashboard, error) {
	if e == nil || e.monitor == nil {
		return nil, ErrEngineNotReady
	}
	dash, err := e.monitor.dashboard(ctx)
	if err != nil {
		return nil, err
	}
	dash.DroppedEvents = e.EventsDropped()
	return dash, nil
}

// VerifyIntegrity decodes every record in the engine's namespace and reports
// how many failed to open. It never repairs; corrupt records are left for
// the read path to evict.
func (e *Engine) VerifyIntegrity(ctx context.Context) (store.IntegrityReport, error) {
	if e == nil || e.store == nil {
		return store.IntegrityReport{}, ErrEngineNotReady
	}
	return e.store.VerifyIntegrity(ctx, e.config.Namespace)
}

// RecordAPICall feeds one outbound request observation into the
// request-pattern detectors. The host application calls this from its
// HTTP instrumentation.
func (e *Engine) RecordAPICall(ctx context.Context, url, method string, status int, duration time.Duration) {
	if e == nil || e.monitor == nil {
		return
	}
	e.monitor.recordAPICall(ctx, url, method, status, duration)
}

// RecordStorageOp feeds one storage observation into the storage-error
// detector, for backends the store does not already observe directly.
func (e *Engine) RecordStorageOp(op store.Op, key string, success bool, err error) {
	if e == nil || e.monitor == nil {
		return
	}
	if success {
		err = nil
	} else if err == nil {
		err = ErrStorageCorruption
	}
	e.monitor.recordStorageOp(op, key, err)
}

// RecordAuthEvent feeds one authentication event into the auth-pattern
// detectors. [Engine.SignIn] records login events itself; call this directly
// for flows the engine does not mediate, such as account creation.
func (e *Engine) RecordAuthEvent(ctx context.Context, event, userID string, metadata map[string]string) {
	if e == nil || e.monitor == nil {
		return
	}
	e.monitor.recordAuthEvent(ctx, event, userID, metadata)
}

// handleHighSeverity is the monitor's automatic-response hook.
func (e *Engine) handleHighSeverity(reason string) {
	ctx := context.Background()
	if e.sessions == nil || !e.sessions.active() {
		e.emitEvent(ctx, eventMonitorResponseFailed, false, "", errors.New("no active session to terminate"), map[string]string{"reason": reason})
		return
	}
	e.sessions.forceLogout(ctx, reason)
}

func (e *Engine) emitEvent(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.events == nil {
		return
	}

	event := Event{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.events.Emit(ctx, event)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
