package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	codec, err := NewAEADCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewAEADCodec failed: %v", err)
	}

	return NewStore(NewRedisBackend(client), codec), mr
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key{Namespace: "security", Entity: "otp", ID: "user-1", Field: "sms"}
	raw := k.String()
	if raw != "security:otp:user-1:sms" {
		t.Fatalf("unexpected raw key %q", raw)
	}

	parsed, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if parsed != k {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}

	if _, err := ParseKey("security:lockout"); err == nil {
		t.Fatal("expected error for two-segment key")
	}
	if _, err := ParseKey(":otp:user"); err == nil {
		t.Fatal("expected error for empty namespace")
	}
}

func TestSetGetSealedRoundTrip(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	key := Key{Namespace: "security", Entity: "session", ID: "u1"}

	in := payload{Name: "alice", Count: 3}
	if err := st.Set(ctx, key, in, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The raw backend value must not contain the plaintext payload.
	raw, err := mr.Get(key.String())
	if err != nil {
		t.Fatalf("raw get failed: %v", err)
	}
	if strings.Contains(raw, "alice") {
		t.Fatal("sealed record leaked plaintext into the backend")
	}

	var out payload
	found, err := st.Get(ctx, key, &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || out != in {
		t.Fatalf("expected %+v back, got found=%v %+v", in, found, out)
	}
}

func TestGetAbsentKey(t *testing.T) {
	st, _ := newTestStore(t)

	var out payload
	found, err := st.Get(context.Background(), Key{Namespace: "security", Entity: "session", ID: "ghost"}, &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expected absent key")
	}
}

func TestExpiredRecordEvictedOnRead(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	key := Key{Namespace: "security", Entity: "otp", ID: "u1"}

	now := time.Now()
	st.SetClock(func() time.Time { return now })

	if err := st.Set(ctx, key, payload{Name: "code"}, SetOptions{ExpiresIn: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Advance the logical clock past expiry without touching the backend TTL.
	now = now.Add(2 * time.Minute)

	var out payload
	found, err := st.Get(ctx, key, &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expired record must read as absent")
	}
	if mr.Exists(key.String()) {
		t.Fatal("expired record must be evicted from the backend")
	}
}

func TestCorruptRecordEvictedAndObserved(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	key := Key{Namespace: "security", Entity: "lockout", ID: "u1"}

	var mu sync.Mutex
	var observedErrs []error
	st.SetObserver(func(op Op, rawKey string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			observedErrs = append(observedErrs, err)
		}
	})

	if err := mr.Set(key.String(), "not json at all"); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	var out payload
	found, err := st.Get(ctx, key, &out)
	if err != nil {
		t.Fatalf("Get must not error on corruption: %v", err)
	}
	if found {
		t.Fatal("corrupt record must read as absent")
	}
	if mr.Exists(key.String()) {
		t.Fatal("corrupt record must be evicted")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observedErrs) == 0 {
		t.Fatal("observer must see the corruption cause")
	}
}

func TestTamperedSealedRecordReadsAsAbsent(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	key := Key{Namespace: "security", Entity: "totp", ID: "u1"}

	if err := st.Set(ctx, key, payload{Name: "secret"}, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := mr.Get(key.String())
	if err != nil {
		t.Fatalf("raw get failed: %v", err)
	}
	// Flip one byte inside the envelope's sealed field.
	sealedStart := strings.Index(raw, `"sealed":"`) + len(`"sealed":"`)
	tampered := []byte(raw)
	tampered[sealedStart+10] ^= 0x01
	if err := mr.Set(key.String(), string(tampered)); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	var out payload
	found, err := st.Get(ctx, key, &out)
	if err != nil {
		t.Fatalf("Get must not error on tampering: %v", err)
	}
	if found {
		t.Fatal("tampered record must read as absent")
	}
	if mr.Exists(key.String()) {
		t.Fatal("tampered record must be evicted")
	}
}

func TestPlainRecordSkipsCodec(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	key := Key{Namespace: "security", Entity: "alert", ID: "log"}

	if err := st.Set(ctx, key, payload{Name: "visible"}, SetOptions{Plain: true}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	raw, err := mr.Get(key.String())
	if err != nil {
		t.Fatalf("raw get failed: %v", err)
	}
	if !strings.Contains(raw, "visible") {
		t.Fatal("plain record should store the payload unencrypted")
	}

	var out payload
	if found, err := st.Get(ctx, key, &out); err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
}

func TestListReturnsEntityKeysOnly(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	keys := []Key{
		{Namespace: "security", Entity: "session", ID: "u1"},
		{Namespace: "security", Entity: "session", ID: "u2"},
		{Namespace: "security", Entity: "lockout", ID: "u1"},
		{Namespace: "other", Entity: "session", ID: "u3"},
	}
	for _, k := range keys {
		if err := st.Set(ctx, k, payload{}, SetOptions{}); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	got, err := st.List(ctx, "security", "session")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 session keys, got %d: %v", len(got), got)
	}
	for _, k := range got {
		if k.Namespace != "security" || k.Entity != "session" {
			t.Fatalf("unexpected key %+v", k)
		}
	}
}

func TestVerifyIntegrityCountsCorruptedNotExpired(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	st.SetClock(func() time.Time { return now })

	good := Key{Namespace: "security", Entity: "session", ID: "good"}
	expired := Key{Namespace: "security", Entity: "otp", ID: "old"}
	corrupt := Key{Namespace: "security", Entity: "totp", ID: "bad"}

	if err := st.Set(ctx, good, payload{Name: "ok"}, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := st.Set(ctx, expired, payload{}, SetOptions{ExpiresIn: time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mr.Set(corrupt.String(), "garbage"); err != nil {
		t.Fatalf("raw set failed: %v", err)
	}

	now = now.Add(time.Minute)

	report, err := st.VerifyIntegrity(ctx, "security")
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 scanned, got %d", report.Total)
	}
	if report.Corrupted != 1 {
		t.Fatalf("expected 1 corrupted, got %d", report.Corrupted)
	}

	if mr.Exists(corrupt.String()) {
		t.Fatal("corrupt record must be evicted by integrity scan")
	}
	if mr.Exists(expired.String()) {
		t.Fatal("expired record must be evicted by integrity scan")
	}
	if !mr.Exists(good.String()) {
		t.Fatal("healthy record must survive integrity scan")
	}
}

func TestBackendUnavailableSurfacesError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	codec, err := NewAEADCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewAEADCodec failed: %v", err)
	}
	st := NewStore(NewRedisBackend(client), codec)
	mr.Close()

	_, err = st.Get(context.Background(), Key{Namespace: "security", Entity: "session", ID: "u1"}, nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

