package securekit

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/averagepojke/securekit/internal"
	"github.com/averagepojke/securekit/store"
)

const (
	entityTOTP        = "totp"
	entityTOTPPending = "totp_pending"
)

type totpCredential struct {
	UserID          string    `json:"user_id"`
	Secret          string    `json:"secret"`
	EnabledAt       time.Time `json:"enabled_at"`
	Verified        bool      `json:"verified"`
	LastUsedCounter int64     `json:"last_used_counter"`
}

type pendingTOTPSetup struct {
	UserID    string    `json:"user_id"`
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at"`
}

// totpManager owns the two-phase time-based credential lifecycle: a setup
// secret lives in a short-lived pending record and is promoted to a
// permanent verified credential only by a successful code check against it.
// A setup that never confirms within the window silently expires.
type totpManager struct {
	store  *store.Store
	clock  Clock
	ns     string
	config TOTPConfig
}

func newTOTPManager(st *store.Store, clock Clock, namespace string, cfg TOTPConfig) *totpManager {
	return &totpManager{store: st, clock: clock, ns: namespace, config: cfg}
}

func (m *totpManager) credentialKey(userID string) store.Key {
	return store.Key{Namespace: m.ns, Entity: entityTOTP, ID: userID}
}

func (m *totpManager) pendingKey(userID string) store.Key {
	return store.Key{Namespace: m.ns, Entity: entityTOTPPending, ID: userID}
}

func (m *totpManager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      0,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// setup generates a fresh secret and stores it pending confirmation. A
// second setup before confirmation replaces the pending secret.
func (m *totpManager) setup(ctx context.Context, userID string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: userID,
		Period:      m.config.Period,
		SecretSize:  m.config.SecretSize,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp secret generation: %w", err)
	}

	pending := pendingTOTPSetup{
		UserID:    userID,
		Secret:    key.Secret(),
		URI:       key.String(),
		CreatedAt: m.clock.Now(),
	}
	if err := m.store.Set(ctx, m.pendingKey(userID), pending, store.SetOptions{ExpiresIn: m.config.SetupTTL}); err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.String(),
	}, nil
}

// confirmSetup checks the code against the pending secret and, only on
// success, promotes it to a permanent verified credential and deletes the
// pending record. A wrong code leaves no permanent credential behind.
func (m *totpManager) confirmSetup(ctx context.Context, userID, code string) error {
	var pending pendingTOTPSetup
	found, err := m.store.Get(ctx, m.pendingKey(userID), &pending)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no pending time-based setup", ErrNotProvisioned)
	}

	matched, counter, err := m.match(pending.Secret, code)
	if err != nil {
		return err
	}
	if !matched {
		return ErrVerificationFailed
	}

	cred := totpCredential{
		UserID:          userID,
		Secret:          pending.Secret,
		EnabledAt:       m.clock.Now(),
		Verified:        true,
		LastUsedCounter: counter,
	}
	if err := m.store.Set(ctx, m.credentialKey(userID), cred, store.SetOptions{}); err != nil {
		return err
	}
	return m.store.Remove(ctx, m.pendingKey(userID))
}

// verify checks a code against the permanent credential within the skew
// window. Codes at or below the last-used counter are rejected as replays
// when replay protection is on.
func (m *totpManager) verify(ctx context.Context, userID, code string) error {
	var cred totpCredential
	found, err := m.store.Get(ctx, m.credentialKey(userID), &cred)
	if err != nil {
		return err
	}
	if !found || !cred.Verified {
		return ErrNotProvisioned
	}

	matched, counter, err := m.match(cred.Secret, code)
	if err != nil {
		return err
	}
	if !matched {
		return ErrVerificationFailed
	}

	if m.config.EnforceReplayProtection {
		if counter <= cred.LastUsedCounter {
			return ErrVerificationFailed
		}
		cred.LastUsedCounter = counter
		if err := m.store.Set(ctx, m.credentialKey(userID), cred, store.SetOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// match walks the counter window ±Skew around now and reports the matched
// counter. No attempt counter by design: brute force is already bounded by
// the code space and window.
func (m *totpManager) match(secret, code string) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !internal.IsNumericString(trimmed) {
		return false, 0, nil
	}

	base := m.clock.Now().Unix() / int64(m.config.Period)
	for step := -int64(m.config.Skew); step <= int64(m.config.Skew); step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(counter*int64(m.config.Period), 0), m.validateOpts())
		if err != nil {
			return false, 0, fmt.Errorf("totp code generation: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// provisioned reports whether a verified credential exists.
func (m *totpManager) provisioned(ctx context.Context, userID string) (bool, error) {
	var cred totpCredential
	found, err := m.store.Get(ctx, m.credentialKey(userID), &cred)
	if err != nil {
		return false, err
	}
	return found && cred.Verified, nil
}

// remove deletes both the permanent credential and any pending setup.
func (m *totpManager) remove(ctx context.Context, userID string) error {
	if err := m.store.Remove(ctx, m.credentialKey(userID)); err != nil {
		return err
	}
	return m.store.Remove(ctx, m.pendingKey(userID))
}
