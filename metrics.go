package securekit

import "sync/atomic"

// MetricID indexes a counter in [Metrics].
type MetricID uint16

// Counter identifiers.
const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLockoutTriggered
	MetricLockoutCleared
	MetricSessionStarted
	MetricForcedLogout
	MetricTOTPSetupRequested
	MetricTOTPEnabled
	MetricVerifySuccess
	MetricVerifyFailure
	MetricVerifyRateLimited
	MetricBackupCodesGenerated
	MetricBackupCodeUsed
	MetricCodeSent
	MetricCodeDeliveryFailed
	MetricMFADisabled
	MetricAlertRaised
	MetricAlertSuppressed
	MetricStorageError
	MetricIntegrityCorrupted
	metricIDCount
)

const (
	cacheLineSize = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size set of lock-free counters. Counters are padded to
// cache-line width so hot increments from different goroutines do not false
// share.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all non-zero counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func newMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Inc increments a counter. Disabled metrics make this a no-op.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Get reads a single counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every non-zero counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if v := atomic.LoadUint64(&m.counters[id].value); v != 0 {
			snap.Counters[id] = v
		}
	}
	return snap
}
