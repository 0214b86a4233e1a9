package securekit

import (
	"context"
	"fmt"
	"time"

	"github.com/averagepojke/securekit/store"
)

const (
	entityLockout    = "lockout"
	entityMFALockout = "mfa_lockout"
)

type lockoutCounter struct {
	Identifier  string     `json:"identifier"`
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// lockoutGuard runs the per-identifier failure state machine
// Clear → Accumulating → Locked → Clear. The counter record's storage TTL
// matches the lockout window, so an expired lock reads as absent even before
// the self-heal paths run.
type lockoutGuard struct {
	store  *store.Store
	clock  Clock
	ns     string
	entity string
	config LockoutConfig
}

func newLockoutGuard(st *store.Store, clock Clock, namespace, entity string, cfg LockoutConfig) *lockoutGuard {
	return &lockoutGuard{
		store:  st,
		clock:  clock,
		entity: entity,
		config: cfg,
		ns:     namespace,
	}
}

func (g *lockoutGuard) key(identifier string) store.Key {
	return store.Key{Namespace: g.ns, Entity: g.entity, ID: identifier}
}

// recordFailure increments the failure counter and returns the resulting
// policy error: *LockedError when the identifier is or becomes locked,
// otherwise ErrInvalidCredentials wrapping the remaining-attempts count.
// The read-increment-write sequence is not atomic against a concurrent call
// for the same identifier; losing one increment only delays lockout, it
// never bypasses an active lock.
func (g *lockoutGuard) recordFailure(ctx context.Context, identifier string) (*AttemptState, error) {
	now := g.clock.Now()

	var counter lockoutCounter
	found, err := g.store.Get(ctx, g.key(identifier), &counter)
	if err != nil {
		return nil, err
	}

	if found && counter.LockedUntil != nil {
		if counter.LockedUntil.After(now) {
			return nil, &LockedError{RetryAfter: counter.LockedUntil.Sub(now)}
		}
		// Lock expired: back to Clear, then count this as a fresh attempt.
		if err := g.store.Remove(ctx, g.key(identifier)); err != nil {
			return nil, err
		}
		counter = lockoutCounter{}
	}

	counter.Identifier = identifier
	counter.Attempts++

	if counter.Attempts >= g.config.MaxAttempts {
		until := now.Add(g.config.Duration)
		counter.LockedUntil = &until
		if err := g.store.Set(ctx, g.key(identifier), counter, store.SetOptions{ExpiresIn: g.config.Duration}); err != nil {
			return nil, err
		}
		return nil, &LockedError{RetryAfter: g.config.Duration}
	}

	if err := g.store.Set(ctx, g.key(identifier), counter, store.SetOptions{ExpiresIn: g.config.Duration}); err != nil {
		return nil, err
	}

	remaining := g.config.MaxAttempts - counter.Attempts
	return &AttemptState{AttemptsRemaining: remaining},
		fmt.Errorf("%w: %d attempt(s) remaining", ErrInvalidCredentials, remaining)
}

// status is a pure read apart from self-healing: a lock whose deadline has
// passed is cleared as a side effect and reported unlocked.
func (g *lockoutGuard) status(ctx context.Context, identifier string) (*LockStatus, error) {
	var counter lockoutCounter
	found, err := g.store.Get(ctx, g.key(identifier), &counter)
	if err != nil {
		return nil, err
	}
	if !found || counter.LockedUntil == nil {
		return &LockStatus{}, nil
	}

	now := g.clock.Now()
	if counter.LockedUntil.After(now) {
		return &LockStatus{
			Locked:           true,
			MinutesRemaining: ceilMinutes(counter.LockedUntil.Sub(now)),
		}, nil
	}

	if err := g.store.Remove(ctx, g.key(identifier)); err != nil {
		return nil, err
	}
	return &LockStatus{}, nil
}

// clear unconditionally removes the counter. Called after the identity
// provider confirms a successful credential check, and on session start.
func (g *lockoutGuard) clear(ctx context.Context, identifier string) error {
	return g.store.Remove(ctx, g.key(identifier))
}
