package securekit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/averagepojke/securekit/store"
)

const entitySession = "session"

// Forced-logout reasons reported through events and the identity provider
// sign-out path.
const (
	ReasonSessionExpired    = "Session expired"
	ReasonInactivityTimeout = "Inactivity timeout"
)

type sessionRecord struct {
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// sessionMonitor tracks the single active session and force-terminates it on
// timeout or prolonged inactivity. One background goroutine drives the
// periodic validity check while a session exists; a tick that lands while
// the previous check is still in flight is skipped, not queued.
type sessionMonitor struct {
	store    *store.Store
	clock    Clock
	ns       string
	config   SessionConfig
	provider IdentityProvider
	emit     func(ctx context.Context, eventType string, success bool, userID string, err error, metadata map[string]string)
	metric   func(MetricID)

	mu         sync.Mutex
	identifier string
	stopCh     chan struct{}

	inFlight atomic.Bool
}

func newSessionMonitor(
	st *store.Store,
	clock Clock,
	namespace string,
	cfg SessionConfig,
	provider IdentityProvider,
	emit func(ctx context.Context, eventType string, success bool, userID string, err error, metadata map[string]string),
	metric func(MetricID),
) *sessionMonitor {
	return &sessionMonitor{
		store:    st,
		clock:    clock,
		ns:       namespace,
		config:   cfg,
		provider: provider,
		emit:     emit,
		metric:   metric,
	}
}

func (m *sessionMonitor) key(identifier string) store.Key {
	return store.Key{Namespace: m.ns, Entity: entitySession, ID: identifier}
}

// start records a fresh session and launches the validity ticker. A fresh
// session implies a successful login already happened, so the caller clears
// the identifier's lockout counter alongside this.
func (m *sessionMonitor) start(ctx context.Context, identifier string) error {
	now := m.clock.Now()
	rec := sessionRecord{StartedAt: now, LastActivityAt: now}
	if err := m.store.Set(ctx, m.key(identifier), rec, store.SetOptions{}); err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
	}
	m.identifier = identifier
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.loop(stopCh)

	m.metric(MetricSessionStarted)
	m.emit(ctx, eventSessionStarted, true, identifier, nil, nil)
	return nil
}

// touch refreshes the last-activity stamp. Call sites are the UI layer's
// responsibility on any user interaction. Without an active session it is a
// no-op.
func (m *sessionMonitor) touch(ctx context.Context) error {
	m.mu.Lock()
	identifier := m.identifier
	m.mu.Unlock()
	if identifier == "" {
		return nil
	}

	var rec sessionRecord
	found, err := m.store.Get(ctx, m.key(identifier), &rec)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	rec.LastActivityAt = m.clock.Now()
	if rec.LastActivityAt.Before(rec.StartedAt) {
		rec.LastActivityAt = rec.StartedAt
	}

	// A forced logout may have won the race since the read above; writing
	// now would resurrect the removed record with no owning monitor.
	m.mu.Lock()
	live := m.identifier == identifier
	m.mu.Unlock()
	if !live {
		return nil
	}
	return m.store.Set(ctx, m.key(identifier), rec, store.SetOptions{})
}

func (m *sessionMonitor) active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identifier != ""
}

func (m *sessionMonitor) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !m.inFlight.CompareAndSwap(false, true) {
				continue
			}
			m.checkValidity(context.Background())
			m.inFlight.Store(false)
		}
	}
}

// checkValidity evaluates exactly one termination reason per run, session
// timeout first.
func (m *sessionMonitor) checkValidity(ctx context.Context) {
	m.mu.Lock()
	identifier := m.identifier
	m.mu.Unlock()
	if identifier == "" {
		return
	}

	var rec sessionRecord
	found, err := m.store.Get(ctx, m.key(identifier), &rec)
	if err != nil {
		// Backend outage: leave the session alone and retry next tick.
		return
	}
	if !found {
		// The record was evicted as corrupt or expired; fail toward logout.
		m.forceLogout(ctx, ReasonSessionExpired)
		return
	}

	now := m.clock.Now()
	switch {
	case now.Sub(rec.StartedAt) > m.config.Timeout:
		m.forceLogout(ctx, ReasonSessionExpired)
	case now.Sub(rec.LastActivityAt) > m.config.InactivityTimeout:
		m.forceLogout(ctx, ReasonInactivityTimeout)
	}
}

// forceLogout is idempotent: the record and ticker go first so local
// invalidation always wins, then the external sign-out runs best-effort with
// failures swallowed into the event stream.
func (m *sessionMonitor) forceLogout(ctx context.Context, reason string) {
	m.mu.Lock()
	identifier := m.identifier
	if identifier == "" {
		m.mu.Unlock()
		return
	}
	m.identifier = ""
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.mu.Unlock()

	_ = m.store.Remove(ctx, m.key(identifier))

	if m.provider != nil {
		if err := m.provider.SignOut(ctx); err != nil {
			m.emit(ctx, eventSignOutFailed, false, identifier, err, nil)
		}
	}

	m.metric(MetricForcedLogout)
	m.emit(ctx, eventForcedLogout, true, identifier, nil, map[string]string{"reason": reason})
}

// shutdown stops the ticker without touching the stored record, for engine
// teardown. Orphaned timers must never outlive the owning engine.
func (m *sessionMonitor) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.identifier = ""
}
