package securekit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockoutBoundary(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()
	guard := kit.engine.loginGuard

	for i := 1; i < 5; i++ {
		state, err := guard.recordFailure(ctx, "u1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		if state.AttemptsRemaining != 5-i {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i, 5-i, state.AttemptsRemaining)
		}
	}

	_, err := guard.recordFailure(ctx, "u1")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError at the boundary, got %v", err)
	}
	if locked.RetryAfter != 15*time.Minute {
		t.Fatalf("expected full lockout duration, got %v", locked.RetryAfter)
	}
}

func TestLockoutLockedFailuresDoNotExtendLock(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()
	guard := kit.engine.loginGuard

	for i := 0; i < 5; i++ {
		_, _ = guard.recordFailure(ctx, "u1")
	}

	kit.clock.Advance(10 * time.Minute)

	_, err := guard.recordFailure(ctx, "u1")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.RetryAfter != 5*time.Minute {
		t.Fatalf("a failure during lockout must not extend it: %v", locked.RetryAfter)
	}
}

func TestLockoutExpiredLockCountsFreshAttempt(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()
	guard := kit.engine.loginGuard

	for i := 0; i < 5; i++ {
		_, _ = guard.recordFailure(ctx, "u1")
	}
	kit.clock.Advance(16 * time.Minute)

	state, err := guard.recordFailure(ctx, "u1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected a fresh attempt after expiry, got %v", err)
	}
	if state.AttemptsRemaining != 4 {
		t.Fatalf("expected 4 remaining on the fresh counter, got %d", state.AttemptsRemaining)
	}
}

func TestLockoutStatusSelfHealsWithoutConsumingAttempts(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()
	guard := kit.engine.loginGuard

	status, err := guard.status(ctx, "nobody")
	if err != nil || status.Locked {
		t.Fatalf("unknown identifier must read unlocked: %+v err=%v", status, err)
	}

	for i := 0; i < 5; i++ {
		_, _ = guard.recordFailure(ctx, "u1")
	}
	status, err = guard.status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Locked || status.MinutesRemaining != 15 {
		t.Fatalf("expected locked for 15 minutes, got %+v", status)
	}

	kit.clock.Advance(20 * time.Minute)
	status, err = guard.status(ctx, "u1")
	if err != nil || status.Locked {
		t.Fatalf("expected self-healed unlock, got %+v err=%v", status, err)
	}

	// The self-heal removed the counter entirely.
	found, err := kit.engine.store.Get(ctx, guard.key("u1"), nil)
	if err != nil {
		t.Fatalf("store get failed: %v", err)
	}
	if found {
		t.Fatal("expired lock counter must be removed")
	}
}

func TestLockoutClear(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()
	guard := kit.engine.loginGuard

	_, _ = guard.recordFailure(ctx, "u1")
	_, _ = guard.recordFailure(ctx, "u1")
	if err := guard.clear(ctx, "u1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	state, err := guard.recordFailure(ctx, "u1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.AttemptsRemaining != 4 {
		t.Fatalf("expected reset budget, got %d remaining", state.AttemptsRemaining)
	}

	if err := guard.clear(ctx, "never-seen"); err != nil {
		t.Fatalf("clearing an absent counter must be a no-op: %v", err)
	}
}

func TestLockoutGuardsAreEntityScoped(t *testing.T) {
	kit := newTestKit(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = kit.engine.loginGuard.recordFailure(ctx, "u1")
	}

	status, err := kit.engine.mfaGuard.status(ctx, "u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Locked {
		t.Fatal("credential lockout must not bleed into the MFA limiter")
	}
}

func TestCeilMinutes(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{30 * time.Second, 1},
		{time.Minute, 1},
		{61 * time.Second, 2},
		{15 * time.Minute, 15},
		{0, 1},
	}
	for _, c := range cases {
		if got := ceilMinutes(c.in); got != c.want {
			t.Fatalf("ceilMinutes(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
