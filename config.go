package securekit

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full engine configuration, one sub-config per concern.
// Configure before [Builder.Build]; treat as immutable afterwards.
type Config struct {
	Namespace  string
	Lockout    LockoutConfig
	MFALockout LockoutConfig
	Session    SessionConfig
	TOTP       TOTPConfig
	Backup     BackupConfig
	OutOfBand  OutOfBandConfig
	Monitor    MonitorConfig
	Events     EventConfig
	Metrics    MetricsConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig tunes a failed-attempt counter. Duration is both the rolling
// window over which attempts accumulate and the lockout length once
// MaxAttempts is reached.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the session monitor. Timeout bounds total session age,
// InactivityTimeout bounds the gap since the last touch, and CheckInterval
// drives the periodic validity check.
type SessionConfig struct {
	Timeout           time.Duration
	InactivityTimeout time.Duration
	CheckInterval     time.Duration
}

/*
====================================
ONE-TIME CODE CONFIG
====================================
*/

// TOTPConfig tunes time-based codes. Skew is the number of adjacent periods
// accepted on either side of now, tolerating clock drift up to Skew*Period
// seconds in each direction.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  uint
	Skew                    uint
	SecretSize              uint
	SetupTTL                time.Duration
	EnforceReplayProtection bool
}

// BackupConfig tunes single-use backup codes.
type BackupConfig struct {
	Count  int
	Digits int
}

// OutOfBandConfig tunes short-lived codes delivered via a side channel.
// ResendInterval throttles delivery per user.
type OutOfBandConfig struct {
	Digits         int
	TTL            time.Duration
	MaxAttempts    int
	ResendInterval time.Duration
	ResendBurst    int
}

/*
====================================
MONITOR CONFIG
====================================
*/

// MonitorConfig tunes the security monitor's detectors and alert emission.
type MonitorConfig struct {
	AlertCooldown   time.Duration
	MaxStoredAlerts int

	RequestWindow         time.Duration
	RapidRequestThreshold int
	FailureThreshold      int
	SlowResponseCeiling   time.Duration

	StorageErrorWindow    time.Duration
	StorageErrorThreshold int

	AuthFailureWindow        time.Duration
	AuthFailureThreshold     int
	AccountCreationWindow    time.Duration
	AccountCreationThreshold int
	UnusualHourStart         int
	UnusualHourEnd           int
	UnusualHourThreshold     int

	FingerprintThreshold float64
	PlatformWeight       float64
	OSWeight             float64
	GeometryWeight       float64

	SelfCheckInterval time.Duration
}

// EventConfig tunes the fire-and-forget event dispatcher.
type EventConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the counter set behind [Engine.MetricsSnapshot].
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Namespace: "security",
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		MFALockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
		},
		Session: SessionConfig{
			Timeout:           24 * time.Hour,
			InactivityTimeout: 30 * time.Minute,
			CheckInterval:     60 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:                  "securekit",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			SecretSize:              20,
			SetupTTL:                10 * time.Minute,
			EnforceReplayProtection: true,
		},
		Backup: BackupConfig{
			Count:  10,
			Digits: 8,
		},
		OutOfBand: OutOfBandConfig{
			Digits:         6,
			TTL:            10 * time.Minute,
			MaxAttempts:    3,
			ResendInterval: 30 * time.Second,
			ResendBurst:    2,
		},
		Monitor: MonitorConfig{
			AlertCooldown:            10 * time.Minute,
			MaxStoredAlerts:          50,
			RequestWindow:            time.Minute,
			RapidRequestThreshold:    50,
			FailureThreshold:         10,
			SlowResponseCeiling:      5 * time.Second,
			StorageErrorWindow:       5 * time.Minute,
			StorageErrorThreshold:    5,
			AuthFailureWindow:        10 * time.Minute,
			AuthFailureThreshold:     5,
			AccountCreationWindow:    time.Hour,
			AccountCreationThreshold: 3,
			UnusualHourStart:         2,
			UnusualHourEnd:           5,
			UnusualHourThreshold:     3,
			FingerprintThreshold:     0.4,
			PlatformWeight:           0.5,
			OSWeight:                 0.25,
			GeometryWeight:           0.25,
			SelfCheckInterval:        5 * time.Minute,
		},
		Events: EventConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Validate rejects configurations that would silently weaken the security
// posture or break method auto-detection.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("Namespace must not be empty")
	}
	if err := c.Lockout.validate("Lockout"); err != nil {
		return err
	}
	if err := c.MFALockout.validate("MFALockout"); err != nil {
		return err
	}

	if c.Session.Timeout <= 0 || c.Session.InactivityTimeout <= 0 || c.Session.CheckInterval <= 0 {
		return errors.New("Session durations must be positive")
	}
	if c.Session.InactivityTimeout > c.Session.Timeout {
		return errors.New("Session.InactivityTimeout must not exceed Session.Timeout")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP.Digits must be between 6 and 8")
	}
	if c.TOTP.Period == 0 {
		return errors.New("TOTP.Period must be positive")
	}
	if c.TOTP.SecretSize < 16 {
		return errors.New("TOTP.SecretSize must be at least 16 bytes")
	}
	if c.TOTP.SetupTTL <= 0 {
		return errors.New("TOTP.SetupTTL must be positive")
	}

	if c.Backup.Count <= 0 {
		return errors.New("Backup.Count must be positive")
	}
	if c.Backup.Digits < 6 || c.Backup.Digits > 10 {
		return errors.New("Backup.Digits must be between 6 and 10")
	}
	// Auto-detection keys off code width; equal widths would make backup
	// codes indistinguishable from time-based codes.
	if c.Backup.Digits == c.TOTP.Digits {
		return errors.New("Backup.Digits must differ from TOTP.Digits")
	}

	if c.OutOfBand.Digits < 4 || c.OutOfBand.Digits > 10 {
		return errors.New("OutOfBand.Digits must be between 4 and 10")
	}
	if c.OutOfBand.TTL <= 0 {
		return errors.New("OutOfBand.TTL must be positive")
	}
	if c.OutOfBand.MaxAttempts <= 0 {
		return errors.New("OutOfBand.MaxAttempts must be positive")
	}
	if c.OutOfBand.ResendInterval <= 0 || c.OutOfBand.ResendBurst <= 0 {
		return errors.New("OutOfBand resend throttle must be positive")
	}

	if err := c.Monitor.validate(); err != nil {
		return err
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events.BufferSize must be positive when events are enabled")
	}
	return nil
}

func (c LockoutConfig) validate(name string) error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%s.MaxAttempts must be positive", name)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%s.Duration must be positive", name)
	}
	return nil
}

func (c MonitorConfig) validate() error {
	if c.AlertCooldown <= 0 {
		return errors.New("Monitor.AlertCooldown must be positive")
	}
	if c.MaxStoredAlerts <= 0 {
		return errors.New("Monitor.MaxStoredAlerts must be positive")
	}
	if c.RequestWindow <= 0 || c.StorageErrorWindow <= 0 || c.AuthFailureWindow <= 0 || c.AccountCreationWindow <= 0 {
		return errors.New("Monitor windows must be positive")
	}
	if c.RapidRequestThreshold <= 0 || c.FailureThreshold <= 0 || c.StorageErrorThreshold <= 0 ||
		c.AuthFailureThreshold <= 0 || c.AccountCreationThreshold <= 0 || c.UnusualHourThreshold <= 0 {
		return errors.New("Monitor thresholds must be positive")
	}
	if c.SlowResponseCeiling <= 0 {
		return errors.New("Monitor.SlowResponseCeiling must be positive")
	}
	if c.UnusualHourStart < 0 || c.UnusualHourStart > 23 || c.UnusualHourEnd < 0 || c.UnusualHourEnd > 23 {
		return errors.New("Monitor unusual-hour band must use 0-23 hours")
	}
	if c.FingerprintThreshold <= 0 || c.FingerprintThreshold > 1 {
		return errors.New("Monitor.FingerprintThreshold must be in (0, 1]")
	}
	if c.PlatformWeight < 0 || c.OSWeight < 0 || c.GeometryWeight < 0 {
		return errors.New("Monitor fingerprint weights must not be negative")
	}
	if c.PlatformWeight+c.OSWeight+c.GeometryWeight == 0 {
		return errors.New("Monitor fingerprint weights must not all be zero")
	}
	if c.SelfCheckInterval <= 0 {
		return errors.New("Monitor.SelfCheckInterval must be positive")
	}
	return nil
}
