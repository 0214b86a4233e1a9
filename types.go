package securekit

import (
	"context"
	"time"
)

// Clock is the injectable time source used by every component, so tests can
// drive expiry and window logic without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IdentityProvider is the hosted identity collaborator. SignInWithCredential
// must return [ErrInvalidCredentials] (wrapped or bare) on a credential
// rejection so the engine can distinguish it from outages. SignOut is
// best-effort; the engine swallows its failures because local session
// invalidation must succeed even when the network call does not.
type IdentityProvider interface {
	SignInWithCredential(ctx context.Context, identifier, secret string) (userID string, err error)
	SignOut(ctx context.Context) error
}

// DeviceSource reports the observable device characteristics that make up a
// fingerprint.
type DeviceSource interface {
	Platform() string
	OSVersion() string
	ScreenSize() (width, height int)
}

// CodeTransport delivers out-of-band codes. securekit only generates,
// stores, and verifies codes; delivery is entirely the transport's problem.
type CodeTransport interface {
	Send(ctx context.Context, channel Channel, destination, code string) error
}

// Channel identifies an out-of-band delivery side channel.
type Channel string

// Supported out-of-band channels.
const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func oobChannels() []Channel {
	return []Channel{ChannelSMS, ChannelEmail}
}

func (c Channel) valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// Method names a second-factor verification method. The empty method asks
// [Engine.Verify] to auto-detect from code shape and what is provisioned.
type Method string

// Verification methods.
const (
	MethodTOTP   Method = "totp"
	MethodBackup Method = "backup"
	MethodSMS    Method = Method(ChannelSMS)
	MethodEmail  Method = Method(ChannelEmail)
)

// LockStatus is returned by [Engine.IsAccountLocked].
type LockStatus struct {
	Locked           bool
	MinutesRemaining int
}

// AttemptState reports the remaining attempt budget after a recorded
// failure.
type AttemptState struct {
	AttemptsRemaining int
}

// TOTPSetup holds the secret and otpauth:// provisioning URI returned by
// [Engine.SetupTOTP]. The secret stays pending until [Engine.VerifySetup]
// succeeds within the setup window.
type TOTPSetup struct {
	Secret          string
	ProvisioningURI string
}

// VerifyResult is returned by [Engine.Verify]. AttemptsRemaining is set only
// for methods that track a per-code attempt budget (out-of-band codes).
type VerifyResult struct {
	Success           bool
	Method            Method
	AttemptsRemaining *int
}

// DeviceFingerprint is a snapshot of observable device characteristics. One
// current value exists at a time; the previous value is diffed against it on
// startup to detect environment tampering.
type DeviceFingerprint struct {
	Platform     string    `json:"platform"`
	OSVersion    string    `json:"os_version"`
	ScreenWidth  int       `json:"screen_width"`
	ScreenHeight int       `json:"screen_height"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Severity grades a security alert and selects the automatic response: high
// forces logout, medium tightens monitoring thresholds, low is log-only.
type Severity string

// Alert severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertType names a detected anomaly pattern. Each type cools down
// independently after firing.
type AlertType string

// Alert types raised by the security monitor.
const (
	AlertDeviceIntegrity      AlertType = "device_integrity"
	AlertRapidRequests        AlertType = "rapid_requests"
	AlertExcessiveFailures    AlertType = "excessive_failures"
	AlertSlowResponse         AlertType = "slow_response"
	AlertStorageErrors        AlertType = "storage_errors"
	AlertStorageCorruption    AlertType = "storage_corruption"
	AlertAuthFailures         AlertType = "auth_failures"
	AlertRapidAccountCreation AlertType = "rapid_account_creation"
	AlertUnusualLoginHours    AlertType = "unusual_login_hours"
)

// SecurityAlert is an append-only, de-duplicated record of a detected
// anomalous condition, capped to a rolling window in storage.
type SecurityAlert struct {
	ID          string             `json:"id"`
	Type        AlertType          `json:"type"`
	Severity    Severity           `json:"severity"`
	Details     map[string]string  `json:"details,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Fingerprint *DeviceFingerprint `json:"fingerprint,omitempty"`
}

// Auth event names accepted by [Engine.RecordAuthEvent].
const (
	AuthEventLoginSuccess   = "login_success"
	AuthEventLoginFailed    = "login_failed"
	AuthEventAccountCreated = "account_created"
)

// Dashboard is the operator snapshot returned by
// [Engine.DashboardSnapshot].
type Dashboard struct {
	Alerts        []SecurityAlert
	Counts        map[AlertType]int
	DroppedEvents uint64
}
