package securekit

import (
	"context"
	"errors"
	"time"

	"github.com/averagepojke/securekit/internal"
)

// SetupTOTP generates a fresh time-based secret for the user and stores it
// as pending. The returned secret and otpauth:// URI go to the enrollment
// UI; nothing is enabled until [Engine.VerifySetup] proves the user's
// authenticator produces matching codes. An unconfirmed setup silently
// expires.
func (e *Engine) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	setup, err := e.totp.setup(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTOTPSetupRequested)
	e.emitEvent(ctx, eventTOTPSetupRequested, true, userID, nil, nil)
	return setup, nil
}

// VerifySetup confirms a pending TOTP enrollment. On a matching code the
// pending secret is promoted to a verified credential and the pending record
// deleted. Failures count against the MFA rate limit like any other
// verification.
func (e *Engine) VerifySetup(ctx context.Context, userID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if err := e.checkMFALimit(ctx, userID); err != nil {
		return err
	}

	if err := e.totp.confirmSetup(ctx, userID, code); err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			return e.recordMFAFailure(ctx, userID, MethodTOTP, err)
		}
		return err
	}

	_ = e.mfaGuard.clear(ctx, userID)
	e.metricInc(MetricTOTPEnabled)
	e.emitEvent(ctx, eventTOTPEnabled, true, userID, nil, nil)
	return nil
}

// GenerateBackupCodes creates a fresh backup code set, replacing any
// existing set including its unused codes. When TOTP is already enabled the
// caller must present a currently valid TOTP code; an enrollment without
// TOTP may generate its first set without one. The plaintext codes are
// returned exactly once.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID, totpCode string) ([]string, error) {
	if e == nil || e.backup == nil {
		return nil, ErrEngineNotReady
	}

	provisioned, err := e.totp.provisioned(ctx, userID)
	if err != nil {
		return nil, err
	}
	if provisioned {
		if err := e.checkMFALimit(ctx, userID); err != nil {
			return nil, err
		}
		if err := e.totp.verify(ctx, userID, totpCode); err != nil {
			if errors.Is(err, ErrVerificationFailed) {
				return nil, e.recordMFAFailure(ctx, userID, MethodTOTP, err)
			}
			return nil, err
		}
		_ = e.mfaGuard.clear(ctx, userID)
	}

	codes, err := e.backup.generate(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricBackupCodesGenerated)
	e.emitEvent(ctx, eventBackupCodesGenerated, true, userID, nil, nil)
	return codes, nil
}

// RemainingBackupCodes counts the unused codes in the user's current set.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	if e == nil || e.backup == nil {
		return 0, ErrEngineNotReady
	}
	return e.backup.remaining(ctx, userID)
}

// SendOutOfBand generates a short-lived code, stores it, and hands it to the
// injected transport for delivery over the given channel. Resends are
// throttled per user; a transport failure discards the stored code so a
// never-delivered code cannot linger.
func (e *Engine) SendOutOfBand(ctx context.Context, userID string, channel Channel, destination string) error {
	if e == nil || e.oob == nil {
		return ErrEngineNotReady
	}
	if err := e.oob.send(ctx, userID, channel, destination); err != nil {
		if errors.Is(err, ErrCodeDeliveryFailed) {
			e.metricInc(MetricCodeDeliveryFailed)
			e.emitEvent(ctx, eventCodeDeliveryFailed, false, userID, err, map[string]string{"channel": string(channel)})
		}
		return err
	}
	e.metricInc(MetricCodeSent)
	e.emitEvent(ctx, eventCodeSent, true, userID, nil, map[string]string{"channel": string(channel)})
	return nil
}

// Verify checks a second-factor code. With an empty method the engine
// detects one from the code's shape and what is provisioned for the user.
// Every call, whatever the method, runs under the per-user MFA rate limit:
// failures accumulate toward a temporary block, success clears it.
//
// On failure the result still carries the detected method, and for methods
// with a per-code attempt budget the remaining attempts.
func (e *Engine) Verify(ctx context.Context, userID, code string, method Method) (*VerifyResult, error) {
	if e == nil || e.mfaGuard == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.checkMFALimit(ctx, userID); err != nil {
		return nil, err
	}

	if method == "" {
		method = e.detectMethod(ctx, userID, code)
	}

	var (
		verifyErr error
		remaining *int
	)
	switch method {
	case MethodTOTP:
		verifyErr = e.totp.verify(ctx, userID, code)
	case MethodBackup:
		verifyErr = e.backup.verify(ctx, userID, code)
		if verifyErr == nil {
			e.metricInc(MetricBackupCodeUsed)
		}
	case MethodSMS, MethodEmail:
		var left int
		left, verifyErr = e.oob.verify(ctx, userID, Channel(method), code)
		if verifyErr != nil && errors.Is(verifyErr, ErrVerificationFailed) {
			remaining = &left
		}
	default:
		return nil, ErrConfiguration
	}

	if verifyErr != nil {
		result := &VerifyResult{Method: method, AttemptsRemaining: remaining}
		if !errors.Is(verifyErr, ErrVerificationFailed) {
			return result, verifyErr
		}
		return result, e.recordMFAFailure(ctx, userID, method, verifyErr)
	}

	_ = e.mfaGuard.clear(ctx, userID)
	e.metricInc(MetricVerifySuccess)
	e.emitEvent(ctx, eventVerifySuccess, true, userID, nil, map[string]string{"method": string(method)})
	return &VerifyResult{Success: true, Method: method}, nil
}

// IsProvisioned reports whether any second factor exists for the user: a
// verified TOTP credential or at least one unused backup code.
func (e *Engine) IsProvisioned(ctx context.Context, userID string) (bool, error) {
	if e == nil || e.totp == nil {
		return false, ErrEngineNotReady
	}
	provisioned, err := e.totp.provisioned(ctx, userID)
	if err != nil {
		return false, err
	}
	if provisioned {
		return true, nil
	}
	left, err := e.backup.remaining(ctx, userID)
	if err != nil {
		return false, err
	}
	return left > 0, nil
}

// DisableMFA tears down every second factor for the user: the TOTP
// credential, the backup code set, and any pending out-of-band codes. The
// caller must first prove possession by presenting a currently valid code;
// calling it with nothing provisioned is [ErrConfiguration]. Teardown is
// best-effort per artifact: a partial failure never re-enables what was
// already removed.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	provisioned, err := e.IsProvisioned(ctx, userID)
	if err != nil {
		return err
	}
	if !provisioned {
		return ErrConfiguration
	}

	if _, err := e.Verify(ctx, userID, code, ""); err != nil {
		return err
	}

	err = errors.Join(
		e.totp.remove(ctx, userID),
		e.backup.remove(ctx, userID),
		e.oob.removeAll(ctx, userID),
		e.mfaGuard.clear(ctx, userID),
	)
	if err != nil {
		return err
	}
	e.metricInc(MetricMFADisabled)
	e.emitEvent(ctx, eventMFADisabled, true, userID, nil, nil)
	return nil
}

// detectMethod infers the verification method from the code's shape and the
// user's provisioned factors. Backup width beats out-of-band width beats the
// TOTP fallback; Config.Validate keeps backup and TOTP widths distinct so
// the first two rules cannot collide.
func (e *Engine) detectMethod(ctx context.Context, userID, code string) Method {
	canonical := canonicalizeBackupCode(code)
	live := e.oob.liveLengths(ctx, userID)

	if internal.IsNumericString(canonical) && len(canonical) == e.config.Backup.Digits {
		collides := false
		for _, width := range live {
			if width == len(canonical) {
				collides = true
				break
			}
		}
		if !collides {
			return MethodBackup
		}
	}

	if len(code) == e.config.TOTP.Digits {
		if provisioned, err := e.totp.provisioned(ctx, userID); err == nil && provisioned {
			return MethodTOTP
		}
	}

	for _, channel := range oobChannels() {
		if width, ok := live[channel]; ok && width == len(code) {
			return Method(channel)
		}
	}

	if provisioned, err := e.totp.provisioned(ctx, userID); err == nil && provisioned {
		return MethodTOTP
	}
	return MethodBackup
}

// checkMFALimit rejects verification attempts while the user's MFA limiter
// is in its blocked window.
func (e *Engine) checkMFALimit(ctx context.Context, userID string) error {
	status, err := e.mfaGuard.status(ctx, userID)
	if err != nil {
		return err
	}
	if status.Locked {
		limErr := &RateLimitedError{RetryAfter: time.Duration(status.MinutesRemaining) * time.Minute}
		e.metricInc(MetricVerifyRateLimited)
		e.emitEvent(ctx, eventVerifyRateLimited, false, userID, limErr, nil)
		return limErr
	}
	return nil
}

// recordMFAFailure counts a failed verification against the per-user MFA
// limiter and normalizes the outcome: crossing the threshold surfaces as
// [RateLimitedError], anything below it keeps the original verification
// error.
func (e *Engine) recordMFAFailure(ctx context.Context, userID string, method Method, verifyErr error) error {
	e.metricInc(MetricVerifyFailure)
	e.emitEvent(ctx, eventVerifyFailure, false, userID, verifyErr, map[string]string{"method": string(method)})

	_, recErr := e.mfaGuard.recordFailure(ctx, userID)
	var locked *LockedError
	if errors.As(recErr, &locked) {
		limErr := &RateLimitedError{RetryAfter: locked.RetryAfter}
		e.metricInc(MetricVerifyRateLimited)
		e.emitEvent(ctx, eventVerifyRateLimited, false, userID, limErr, nil)
		return limErr
	}
	return verifyErr
}
