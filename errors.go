package securekit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the identity provider rejects a
	// credential pair, and by RecordFailedLogin with the remaining-attempts
	// count embedded in the message.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is the sentinel matched by [LockedError] via errors.Is.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited is the sentinel matched by [RateLimitedError] via errors.Is.
	ErrRateLimited = errors.New("verification rate limited")
	// ErrVerificationFailed indicates a wrong code or credential. Safe to
	// retry until the rate limit layer locks the identifier.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrNotProvisioned indicates the requested verification method was
	// never set up for the user.
	ErrNotProvisioned = errors.New("method not provisioned")
	// ErrStorageCorruption is surfaced only from integrity checks; normal
	// reads self-heal instead of raising it.
	ErrStorageCorruption = errors.New("storage corruption detected")
	// ErrConfiguration indicates a policy violation such as disabling MFA
	// without a prior successful verification.
	ErrConfiguration = errors.New("configuration violation")
	// ErrCodeDeliveryFailed indicates the out-of-band transport rejected a
	// send; the stored code is discarded.
	ErrCodeDeliveryFailed = errors.New("code delivery failed")
	// ErrProviderUnavailable wraps identity-provider failures that are not
	// credential rejections.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrEngineNotReady is returned by Engine methods invoked before Build
	// wired their dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports a temporarily blocked identifier. It matches
// [ErrAccountLocked] under errors.Is.
type LockedError struct {
	RetryAfter time.Duration
}

// Error always communicates a concrete wait time.
func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked: retry in %d minute(s)", e.MinutesRemaining())
}

// Is makes errors.Is(err, ErrAccountLocked) true for this type.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// MinutesRemaining rounds the wait up to whole minutes, never below one.
func (e *LockedError) MinutesRemaining() int {
	return ceilMinutes(e.RetryAfter)
}

// RateLimitedError has the same shape as [LockedError] but is raised by the
// verification rate limit layer rather than credential lockout. It matches
// [ErrRateLimited] under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("verification rate limited: retry in %d minute(s)", e.MinutesRemaining())
}

// Is makes errors.Is(err, ErrRateLimited) true for this type.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// MinutesRemaining rounds the wait up to whole minutes, never below one.
func (e *RateLimitedError) MinutesRemaining() int {
	return ceilMinutes(e.RetryAfter)
}

func ceilMinutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
