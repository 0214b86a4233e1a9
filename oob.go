package securekit

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/averagepojke/securekit/internal"
	"github.com/averagepojke/securekit/store"
)

const entityOOB = "oob"

type outOfBandCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	Channel   Channel   `json:"channel"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// oobManager generates, stores, and verifies codes delivered through a side
// channel. One live code per user per channel; the per-user send limiter is
// a disposable in-memory working set that rebuilds after a restart.
type oobManager struct {
	store     *store.Store
	clock     Clock
	ns        string
	config    OutOfBandConfig
	transport CodeTransport

	mu      sync.Mutex
	senders map[string]*rate.Limiter
}

func newOOBManager(st *store.Store, clock Clock, namespace string, cfg OutOfBandConfig, transport CodeTransport) *oobManager {
	return &oobManager{
		store:     st,
		clock:     clock,
		ns:        namespace,
		config:    cfg,
		transport: transport,
		senders:   make(map[string]*rate.Limiter),
	}
}

func (m *oobManager) key(userID string, channel Channel) store.Key {
	return store.Key{Namespace: m.ns, Entity: entityOOB, ID: userID, Field: string(channel)}
}

func (m *oobManager) limiter(userID string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.senders[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(m.config.ResendInterval), m.config.ResendBurst)
		m.senders[userID] = l
	}
	return l
}

// send generates and stores a fresh code, then hands it to the transport.
// A transport failure discards the stored code so a code the user never
// received cannot linger as a live credential.
func (m *oobManager) send(ctx context.Context, userID string, channel Channel, destination string) error {
	if !channel.valid() {
		return fmt.Errorf("%w: unknown out-of-band channel %q", ErrConfiguration, channel)
	}
	if m.transport == nil {
		return fmt.Errorf("%w: no code transport configured", ErrConfiguration)
	}
	if !m.limiter(userID).Allow() {
		return &RateLimitedError{RetryAfter: m.config.ResendInterval}
	}

	code, err := internal.NumericCode(m.config.Digits)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	rec := outOfBandCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		Channel:   channel,
		SentAt:    now,
		ExpiresAt: now.Add(m.config.TTL),
	}
	if err := m.store.Set(ctx, m.key(userID, channel), rec, store.SetOptions{ExpiresIn: m.config.TTL}); err != nil {
		return err
	}

	if err := m.transport.Send(ctx, channel, destination, code); err != nil {
		_ = m.store.Remove(ctx, m.key(userID, channel))
		return fmt.Errorf("%w: %v", ErrCodeDeliveryFailed, err)
	}
	return nil
}

// verify checks a code. Success deletes the record (single use). Each
// failure increments the persisted attempt counter under the code's original
// expiry; reaching the cap invalidates the code even before natural expiry.
// The remaining count accompanies failures so callers can surface it.
func (m *oobManager) verify(ctx context.Context, userID string, channel Channel, code string) (int, error) {
	var rec outOfBandCode
	found, err := m.store.Get(ctx, m.key(userID, channel), &rec)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: no live %s code", ErrNotProvisioned, channel)
	}

	if rec.Attempts >= m.config.MaxAttempts {
		_ = m.store.Remove(ctx, m.key(userID, channel))
		return 0, ErrVerificationFailed
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) == 1 {
		return 0, m.store.Remove(ctx, m.key(userID, channel))
	}

	rec.Attempts++
	if rec.Attempts >= m.config.MaxAttempts {
		_ = m.store.Remove(ctx, m.key(userID, channel))
		return 0, ErrVerificationFailed
	}

	ttl := rec.ExpiresAt.Sub(m.clock.Now())
	if ttl <= 0 {
		_ = m.store.Remove(ctx, m.key(userID, channel))
		return 0, ErrVerificationFailed
	}
	if err := m.store.Set(ctx, m.key(userID, channel), rec, store.SetOptions{ExpiresIn: ttl}); err != nil {
		return 0, err
	}
	return m.config.MaxAttempts - rec.Attempts, ErrVerificationFailed
}

// liveLengths reports the code width of each channel's live code, for
// method auto-detection.
func (m *oobManager) liveLengths(ctx context.Context, userID string) map[Channel]int {
	lengths := make(map[Channel]int)
	for _, channel := range oobChannels() {
		var rec outOfBandCode
		found, err := m.store.Get(ctx, m.key(userID, channel), &rec)
		if err != nil || !found {
			continue
		}
		lengths[channel] = len(rec.Code)
	}
	return lengths
}

// removeAll deletes any live code on every channel.
func (m *oobManager) removeAll(ctx context.Context, userID string) error {
	var firstErr error
	for _, channel := range oobChannels() {
		if err := m.store.Remove(ctx, m.key(userID, channel)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
