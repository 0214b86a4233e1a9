package securekit

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/averagepojke/securekit/store"
)

// Builder assembles an [Engine] from a configuration and injected
// collaborators. Configure through the With* methods, then call
// [Builder.Build] exactly once.
type Builder struct {
	config Config

	redis     redis.UniversalClient
	backend   store.Backend
	codec     store.Codec
	masterKey []byte
	clock     Clock

	provider  IdentityProvider
	device    DeviceSource
	transport CodeTransport
	sink      EventSink

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-valued fields are NOT
// filled with defaults; start from [DefaultConfig] when overriding a subset.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis selects Redis as the storage backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend injects a custom storage backend, overriding WithRedis.
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithMasterKey sets the key sensitive records are sealed under. Required
// unless a custom codec is injected.
func (b *Builder) WithMasterKey(key []byte) *Builder {
	b.masterKey = key
	return b
}

// WithCodec injects a custom record codec, overriding WithMasterKey.
func (b *Builder) WithCodec(codec store.Codec) *Builder {
	b.codec = codec
	return b
}

// WithClock replaces the time source. Tests inject a fake clock here.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithIdentityProvider injects the hosted identity collaborator. Required.
func (b *Builder) WithIdentityProvider(provider IdentityProvider) *Builder {
	b.provider = provider
	return b
}

// WithDeviceSource injects the device characteristics reader. Optional;
// without it device-integrity monitoring is skipped.
func (b *Builder) WithDeviceSource(device DeviceSource) *Builder {
	b.device = device
	return b
}

// WithCodeTransport injects the out-of-band delivery collaborator. Optional;
// without it SendOutOfBand returns [ErrConfiguration].
func (b *Builder) WithCodeTransport(transport CodeTransport) *Builder {
	b.transport = transport
	return b
}

// WithEventSink injects the event destination. Events still require
// Config.Events.Enabled.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// DefaultConfig returns the default configuration for callers that want to
// tweak a subset before [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

// Build validates the configuration, wires every component, and returns the
// engine. The builder cannot be reused.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}

	// -------- STORAGE --------
	backend := b.backend
	if backend == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or custom backend required")
		}
		backend = store.NewRedisBackend(b.redis)
	}

	codec := b.codec
	if codec == nil {
		if len(b.masterKey) == 0 {
			return nil, errors.New("master key or custom codec required")
		}
		var err error
		codec, err = store.NewAEADCodec(b.masterKey)
		if err != nil {
			return nil, err
		}
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	st := store.NewStore(backend, codec)
	st.SetClock(clock.Now)

	// -------- ENGINE --------
	engine := &Engine{
		config:   cfg,
		store:    st,
		clock:    clock,
		provider: b.provider,
		metrics:  newMetrics(cfg.Metrics.Enabled),
		events:   newEventDispatcher(cfg.Events, b.sink),
	}

	engine.loginGuard = newLockoutGuard(st, clock, cfg.Namespace, entityLockout, cfg.Lockout)
	engine.mfaGuard = newLockoutGuard(st, clock, cfg.Namespace, entityMFALockout, cfg.MFALockout)
	engine.sessions = newSessionMonitor(st, clock, cfg.Namespace, cfg.Session, b.provider, engine.emitEvent, engine.metricInc)
	engine.totp = newTOTPManager(st, clock, cfg.Namespace, cfg.TOTP)
	engine.backup = newBackupCodeManager(st, clock, cfg.Namespace, cfg.Backup)
	engine.oob = newOOBManager(st, clock, cfg.Namespace, cfg.OutOfBand, b.transport)

	engine.monitor = newSecurityMonitor(st, clock, cfg.Namespace, cfg.Monitor, b.device, engine.metrics, engine.emitEvent)
	engine.monitor.onHighSeverity = engine.handleHighSeverity
	st.SetObserver(engine.monitor.recordStorageOp)

	b.built = true
	return engine, nil
}
