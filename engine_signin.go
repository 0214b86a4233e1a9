package securekit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SignIn runs the guarded credential flow: the lockout check happens before
// the identity provider is contacted, so a locked identifier never reaches
// the network. Provider success clears the failure counter and starts a
// session; a credential rejection records a failed attempt.
//
// Returns the provider's user ID on success. On failure the error is one of
// [LockedError], [ErrInvalidCredentials] (with the remaining attempt count),
// or [ErrProviderUnavailable] for non-credential provider failures, which do
// not consume attempts.
func (e *Engine) SignIn(ctx context.Context, identifier, secret string) (string, error) {
	if e == nil || e.provider == nil {
		return "", ErrEngineNotReady
	}

	status, err := e.loginGuard.status(ctx, identifier)
	if err != nil {
		return "", err
	}
	if status.Locked {
		e.metricInc(MetricLoginLocked)
		lockErr := &LockedError{RetryAfter: time.Duration(status.MinutesRemaining) * time.Minute}
		e.emitEvent(ctx, eventLoginLocked, false, identifier, lockErr, nil)
		return "", lockErr
	}

	userID, err := e.provider.SignInWithCredential(ctx, identifier, secret)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		e.metricInc(MetricLoginFailure)
		e.RecordAuthEvent(ctx, AuthEventLoginFailed, identifier, nil)

		_, recErr := e.loginGuard.recordFailure(ctx, identifier)
		var locked *LockedError
		if errors.As(recErr, &locked) {
			e.metricInc(MetricLockoutTriggered)
			e.emitEvent(ctx, eventLockoutTriggered, false, identifier, recErr, nil)
		} else {
			e.emitEvent(ctx, eventLoginFailure, false, identifier, recErr, nil)
		}
		return "", recErr
	}

	if err := e.StartSession(ctx, identifier); err != nil {
		return "", err
	}

	e.metricInc(MetricLoginSuccess)
	e.RecordAuthEvent(ctx, AuthEventLoginSuccess, userID, nil)
	e.emitEvent(ctx, eventLoginSuccess, true, userID, nil, nil)
	return userID, nil
}

// RecordFailedLogin advances the lockout state machine for an identifier and
// reports the outcome: [LockedError] while locked or when this failure
// triggers the lock, otherwise [ErrInvalidCredentials] wrapping the
// remaining attempt count.
func (e *Engine) RecordFailedLogin(ctx context.Context, identifier string) (*AttemptState, error) {
	if e == nil || e.loginGuard == nil {
		return nil, ErrEngineNotReady
	}
	state, err := e.loginGuard.recordFailure(ctx, identifier)
	var locked *LockedError
	if errors.As(err, &locked) {
		e.metricInc(MetricLockoutTriggered)
		e.emitEvent(ctx, eventLockoutTriggered, false, identifier, err, nil)
	}
	return state, err
}

// IsAccountLocked reads the lockout state without consuming an attempt.
// An expired lock is cleared on the way through, so callers always see a
// truthful answer.
func (e *Engine) IsAccountLocked(ctx context.Context, identifier string) (*LockStatus, error) {
	if e == nil || e.loginGuard == nil {
		return nil, ErrEngineNotReady
	}
	return e.loginGuard.status(ctx, identifier)
}

// ClearFailedAttempts unconditionally resets an identifier's failure
// counter. Clearing an identifier with no counter is a no-op.
func (e *Engine) ClearFailedAttempts(ctx context.Context, identifier string) error {
	if e == nil || e.loginGuard == nil {
		return ErrEngineNotReady
	}
	if err := e.loginGuard.clear(ctx, identifier); err != nil {
		return err
	}
	e.metricInc(MetricLockoutCleared)
	e.emitEvent(ctx, eventLockoutCleared, true, identifier, nil, nil)
	return nil
}

// StartSession records a fresh session for the identifier, clears its
// lockout counter, and launches the periodic validity check. Starting over
// an existing session replaces it.
func (e *Engine) StartSession(ctx context.Context, identifier string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.loginGuard.clear(ctx, identifier); err != nil {
		return err
	}
	return e.sessions.start(ctx, identifier)
}

// Touch stamps the current session's last-activity time. The host
// application calls this on user interaction; without it the inactivity
// timeout eventually fires. A no-op when no session is active.
func (e *Engine) Touch(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.sessions.touch(ctx)
}

// ForceLogout terminates the current session: the local record is cleared
// first, then the provider sign-out runs best-effort. Idempotent.
func (e *Engine) ForceLogout(ctx context.Context, reason string) {
	if e == nil || e.sessions == nil {
		return
	}
	e.sessions.forceLogout(ctx, reason)
}

// SignOut is the user-initiated variant of [Engine.ForceLogout].
func (e *Engine) SignOut(ctx context.Context) {
	e.ForceLogout(ctx, "Signed out")
}
