package securekit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/averagepojke/securekit/store"
)

const entityAlert = "alert"

// sensitivityBoost applies after a medium-severity alert: detection
// thresholds are divided by it until a clean self-check restores normal
// sensitivity.
const sensitivityBoost = 2.0

type apiCall struct {
	URL      string
	Method   string
	Status   int
	Duration time.Duration
	At       time.Time
}

type authEventRecord struct {
	Event  string
	UserID string
	At     time.Time
}

// securityMonitor is a continuous evaluator over append-only signal streams.
// Signal buffers and cooldown stamps are disposable in-memory working sets:
// a restart forgets recent cooldowns at worst. Only emitted alerts are
// persisted, in a count-capped rolling window.
//
// An alert type that fires enters a cooldown during which further alerts of
// that type are dropped entirely — not queued, not merged. That loses events
// during storms by explicit choice; the suppressed-alert metric records the
// trade-off.
type securityMonitor struct {
	store   *store.Store
	clock   Clock
	ns      string
	config  MonitorConfig
	device  DeviceSource
	metrics *Metrics
	emit    func(ctx context.Context, eventType string, success bool, userID string, err error, metadata map[string]string)

	// onHighSeverity is the automatic-response hook; the engine wires it to
	// forced logout. Never called with the monitor mutex held.
	onHighSeverity func(reason string)

	mu              sync.Mutex
	cooldowns       map[AlertType]time.Time
	requests        []apiCall
	storageFailures []time.Time
	authEvents      []authEventRecord
	sensitivity     float64

	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	inFlight atomic.Bool
}

func newSecurityMonitor(
	st *store.Store,
	clock Clock,
	namespace string,
	cfg MonitorConfig,
	device DeviceSource,
	metrics *Metrics,
	emit func(ctx context.Context, eventType string, success bool, userID string, err error, metadata map[string]string),
) *securityMonitor {
	return &securityMonitor{
		store:       st,
		clock:       clock,
		ns:          namespace,
		config:      cfg,
		device:      device,
		metrics:     metrics,
		emit:        emit,
		cooldowns:   make(map[AlertType]time.Time),
		sensitivity: 1.0,
		stopCh:      make(chan struct{}),
	}
}

func (m *securityMonitor) alertKey() store.Key {
	return store.Key{Namespace: m.ns, Entity: entityAlert, ID: "log"}
}

func (m *securityMonitor) fingerprintKey() store.Key {
	return store.Key{Namespace: m.ns, Entity: entityFingerprint, ID: "device"}
}

// start runs the initial device-integrity check and launches the periodic
// self-check. Repeated calls are no-ops.
func (m *securityMonitor) start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.checkFingerprint(ctx)
	go m.loop()
}

func (m *securityMonitor) loop() {
	ticker := time.NewTicker(m.config.SelfCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.inFlight.CompareAndSwap(false, true) {
				continue
			}
			m.selfCheck(context.Background())
			m.inFlight.Store(false)
		}
	}
}

func (m *securityMonitor) stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// selfCheck verifies store integrity and re-evaluates the device
// environment. Failures are reported through events, never propagated: a
// broken monitor must not block the flows it protects.
func (m *securityMonitor) selfCheck(ctx context.Context) {
	report, err := m.store.VerifyIntegrity(ctx, m.ns)
	if err != nil {
		m.emit(ctx, eventIntegrityCheckFailed, false, "", err, nil)
	} else if report.Corrupted > 0 {
		for i := 0; i < report.Corrupted; i++ {
			m.metrics.Inc(MetricIntegrityCorrupted)
		}
		m.raise(ctx, AlertStorageCorruption, SeverityMedium, map[string]string{
			"total":     strconv.Itoa(report.Total),
			"corrupted": strconv.Itoa(report.Corrupted),
		}, nil)
	} else {
		// Clean pass: relax any sensitivity boost from earlier medium
		// alerts.
		m.mu.Lock()
		m.sensitivity = 1.0
		m.mu.Unlock()
	}

	m.checkFingerprint(ctx)
}

// checkFingerprint diffs the stored fingerprint against a fresh capture and
// stores the fresh one as current.
func (m *securityMonitor) checkFingerprint(ctx context.Context) {
	if m.device == nil {
		return
	}

	current := captureFingerprint(m.device, m.clock.Now())

	var prev DeviceFingerprint
	found, err := m.store.Get(ctx, m.fingerprintKey(), &prev)
	if err != nil {
		return
	}

	if err := m.store.Set(ctx, m.fingerprintKey(), current, store.SetOptions{}); err != nil {
		return
	}
	if !found {
		return
	}

	score, changed := fingerprintDiff(prev, current, m.config)
	if score >= m.config.FingerprintThreshold {
		m.raise(ctx, AlertDeviceIntegrity, severityForScore(score), changed, &current)
	}
}

// recordAPICall ingests one outbound call into the sliding request window
// and evaluates the request-pattern detectors.
func (m *securityMonitor) recordAPICall(ctx context.Context, url, method string, status int, duration time.Duration) {
	now := m.clock.Now()

	m.mu.Lock()
	cutoff := now.Add(-m.config.RequestWindow)
	m.requests = pruneAPICalls(m.requests, cutoff)
	m.requests = append(m.requests, apiCall{URL: url, Method: method, Status: status, Duration: duration, At: now})

	total := len(m.requests)
	failures := 0
	for _, c := range m.requests {
		if c.Status >= 400 {
			failures++
		}
	}
	rapidAt := m.scaledLocked(m.config.RapidRequestThreshold)
	failAt := m.scaledLocked(m.config.FailureThreshold)
	m.mu.Unlock()

	if total > rapidAt {
		m.raise(ctx, AlertRapidRequests, SeverityMedium, map[string]string{
			"count":  strconv.Itoa(total),
			"window": m.config.RequestWindow.String(),
		}, nil)
	}
	if failures > failAt {
		m.raise(ctx, AlertExcessiveFailures, SeverityMedium, map[string]string{
			"failures": strconv.Itoa(failures),
			"window":   m.config.RequestWindow.String(),
		}, nil)
	}
	if duration > m.config.SlowResponseCeiling {
		m.raise(ctx, AlertSlowResponse, SeverityLow, map[string]string{
			"url":      url,
			"duration": duration.String(),
		}, nil)
	}
}

// recordStorageOp is the store's operation observer. Successes are ignored;
// failures accumulate in a time-windowed list. It must stay reentrancy-safe:
// raising an alert writes to the store, which reports back here.
func (m *securityMonitor) recordStorageOp(op store.Op, rawKey string, err error) {
	if err == nil {
		return
	}
	m.metrics.Inc(MetricStorageError)

	now := m.clock.Now()
	m.mu.Lock()
	cutoff := now.Add(-m.config.StorageErrorWindow)
	m.storageFailures = pruneTimes(m.storageFailures, cutoff)
	m.storageFailures = append(m.storageFailures, now)
	count := len(m.storageFailures)
	m.mu.Unlock()

	if count >= m.config.StorageErrorThreshold {
		m.raise(context.Background(), AlertStorageErrors, SeverityMedium, map[string]string{
			"count":  strconv.Itoa(count),
			"window": m.config.StorageErrorWindow.String(),
			"op":     string(op),
		}, nil)
	}
}

// recordAuthEvent ingests an authentication-related event and evaluates the
// rolling auth-pattern detectors.
func (m *securityMonitor) recordAuthEvent(ctx context.Context, event, userID string, metadata map[string]string) {
	now := m.clock.Now()

	m.mu.Lock()
	retain := m.config.AuthFailureWindow
	if m.config.AccountCreationWindow > retain {
		retain = m.config.AccountCreationWindow
	}
	if day := 24 * time.Hour; day > retain {
		retain = day
	}
	m.authEvents = pruneAuthEvents(m.authEvents, now.Add(-retain))
	m.authEvents = append(m.authEvents, authEventRecord{Event: event, UserID: userID, At: now})

	failures := 0
	creations := 0
	unusual := 0
	failureCutoff := now.Add(-m.config.AuthFailureWindow)
	creationCutoff := now.Add(-m.config.AccountCreationWindow)
	for _, rec := range m.authEvents {
		switch rec.Event {
		case AuthEventLoginFailed:
			if rec.UserID == userID && rec.At.After(failureCutoff) {
				failures++
			}
		case AuthEventAccountCreated:
			if rec.At.After(creationCutoff) {
				creations++
			}
		case AuthEventLoginSuccess:
			hour := rec.At.Hour()
			if rec.UserID == userID && hour >= m.config.UnusualHourStart && hour <= m.config.UnusualHourEnd {
				unusual++
			}
		}
	}
	failAt := m.scaledLocked(m.config.AuthFailureThreshold)
	m.mu.Unlock()

	switch event {
	case AuthEventLoginFailed:
		if failures >= failAt {
			m.raise(ctx, AlertAuthFailures, SeverityHigh, map[string]string{
				"user_id": userID,
				"count":   strconv.Itoa(failures),
			}, nil)
		}
	case AuthEventAccountCreated:
		if creations >= m.config.AccountCreationThreshold {
			m.raise(ctx, AlertRapidAccountCreation, SeverityMedium, map[string]string{
				"count":  strconv.Itoa(creations),
				"window": m.config.AccountCreationWindow.String(),
			}, nil)
		}
	case AuthEventLoginSuccess:
		if unusual >= m.config.UnusualHourThreshold {
			m.raise(ctx, AlertUnusualLoginHours, SeverityLow, map[string]string{
				"user_id": userID,
				"count":   strconv.Itoa(unusual),
			}, nil)
		}
	}
}

// raise emits one graded, de-duplicated alert. The cooldown stamp is taken
// before any store write so a failing write cannot re-trigger the same type
// through the storage-error detector.
func (m *securityMonitor) raise(ctx context.Context, typ AlertType, severity Severity, details map[string]string, fp *DeviceFingerprint) {
	now := m.clock.Now()

	m.mu.Lock()
	if until, ok := m.cooldowns[typ]; ok && now.Before(until) {
		m.mu.Unlock()
		m.metrics.Inc(MetricAlertSuppressed)
		m.emit(ctx, eventAlertSuppressed, true, "", nil, map[string]string{"type": string(typ)})
		return
	}
	m.cooldowns[typ] = now.Add(m.config.AlertCooldown)
	if severity == SeverityMedium {
		m.sensitivity = sensitivityBoost
	}
	m.mu.Unlock()

	alert := SecurityAlert{
		ID:          uuid.NewString(),
		Type:        typ,
		Severity:    severity,
		Details:     details,
		Timestamp:   now,
		Fingerprint: fp,
	}
	m.persistAlert(ctx, alert)

	m.metrics.Inc(MetricAlertRaised)
	m.emit(ctx, eventAlertRaised, true, "", nil, map[string]string{
		"type":     string(typ),
		"severity": string(severity),
	})

	if severity == SeverityHigh && m.onHighSeverity != nil {
		m.onHighSeverity("Security alert: " + string(typ))
	}
}

// persistAlert appends to the count-capped rolling window. Persistence
// failures are swallowed; the alert already went out through the event
// pipeline.
func (m *securityMonitor) persistAlert(ctx context.Context, alert SecurityAlert) {
	var alerts []SecurityAlert
	if _, err := m.store.Get(ctx, m.alertKey(), &alerts); err != nil {
		return
	}
	alerts = append(alerts, alert)
	if over := len(alerts) - m.config.MaxStoredAlerts; over > 0 {
		alerts = alerts[over:]
	}
	_ = m.store.Set(ctx, m.alertKey(), alerts, store.SetOptions{Plain: true})
}

// dashboard returns the stored alert window with per-type counts.
func (m *securityMonitor) dashboard(ctx context.Context) (*Dashboard, error) {
	var alerts []SecurityAlert
	if _, err := m.store.Get(ctx, m.alertKey(), &alerts); err != nil {
		return nil, err
	}

	counts := make(map[AlertType]int, len(alerts))
	for _, a := range alerts {
		counts[a.Type]++
	}
	return &Dashboard{Alerts: alerts, Counts: counts}, nil
}

// scaledLocked divides a threshold by the current sensitivity. Caller holds
// m.mu.
func (m *securityMonitor) scaledLocked(threshold int) int {
	scaled := int(float64(threshold) / m.sensitivity)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func pruneAPICalls(calls []apiCall, cutoff time.Time) []apiCall {
	kept := calls[:0]
	for _, c := range calls {
		if c.At.After(cutoff) {
			kept = append(kept, c)
		}
	}
	return kept
}

func pruneTimes(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func pruneAuthEvents(events []authEventRecord, cutoff time.Time) []authEventRecord {
	kept := events[:0]
	for _, e := range events {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
