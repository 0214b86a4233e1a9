package securekit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) byType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &collectSink{}
	d := newEventDispatcher(EventConfig{Enabled: true, BufferSize: 64, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: eventLoginSuccess})
	}
	d.Close()

	if got := len(sink.byType(eventLoginSuccess)); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := newEventDispatcher(EventConfig{Enabled: false}, nil)
	if d != nil {
		t.Fatal("disabled events must yield a nil dispatcher")
	}
	// The nil dispatcher absorbs emissions and closes safely.
	d.Emit(context.Background(), Event{EventType: eventLoginSuccess})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reports zero drops")
	}
}

func TestEngineEmitsToSink(t *testing.T) {
	sink := &collectSink{}
	kit := newTestKitWithSink(t, sink)
	ctx := context.Background()

	kit.provider.setSignInErr(ErrInvalidCredentials)
	for i := 0; i < 5; i++ {
		_, _ = kit.engine.SignIn(ctx, "alice", "wrong")
	}
	kit.engine.Close()

	if got := len(sink.byType(eventLoginFailure)); got != 4 {
		t.Fatalf("expected 4 login_failure events, got %d", got)
	}
	trig := sink.byType(eventLockoutTriggered)
	if len(trig) != 1 {
		t.Fatalf("expected 1 lockout_triggered event, got %d", len(trig))
	}
	if trig[0].UserID != "alice" || trig[0].Success {
		t.Fatalf("unexpected event %+v", trig[0])
	}
	if trig[0].Error == "" {
		t.Fatal("failure events must carry the error text")
	}
}

func newTestKitWithSink(t *testing.T, sink EventSink) *testKit {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := defaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Events.Enabled = true

	kit := &testKit{
		clock:     newFakeClock(),
		provider:  &mockProvider{},
		transport: &mockTransport{},
		device:    newMockDevice(),
		mr:        mr,
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithMasterKey(testMasterKey).
		WithClock(kit.clock).
		WithIdentityProvider(kit.provider).
		WithDeviceSource(kit.device).
		WithCodeTransport(kit.transport).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	kit.engine = engine
	return kit
}

func TestJSONWriterSink(t *testing.T) {
	var buf safeBuffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		EventType: eventVerifySuccess,
		UserID:    "u1",
		Success:   true,
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}

	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.EventType != eventVerifySuccess || decoded.UserID != "u1" || !decoded.Success {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(4)
	sink.Emit(context.Background(), Event{EventType: eventCodeSent})

	select {
	case e := <-sink.Events():
		if e.EventType != eventCodeSent {
			t.Fatalf("unexpected event %+v", e)
		}
	default:
		t.Fatal("expected a buffered event")
	}

	// A full buffer with a cancelled context never blocks.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		sink.Emit(ctx, Event{EventType: eventCodeSent})
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
