package securekit

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigRejectsAmbiguousCodeWidths(t *testing.T) {
	cfg := defaultConfig()
	cfg.Backup.Digits = 6 // same as TOTP
	if err := cfg.Validate(); err == nil {
		t.Fatal("equal backup and TOTP widths must be rejected")
	}
}

func TestConfigRejectsBadValues(t *testing.T) {
	mutations := []func(*Config){
		func(c *Config) { c.Namespace = "" },
		func(c *Config) { c.Lockout.MaxAttempts = 0 },
		func(c *Config) { c.Lockout.Duration = -time.Minute },
		func(c *Config) { c.MFALockout.MaxAttempts = -1 },
		func(c *Config) { c.Session.Timeout = 0 },
		func(c *Config) { c.Session.InactivityTimeout = 48 * time.Hour }, // exceeds Timeout
		func(c *Config) { c.TOTP.Digits = 4 },
		func(c *Config) { c.TOTP.Period = 0 },
		func(c *Config) { c.TOTP.SecretSize = 8 },
		func(c *Config) { c.TOTP.SetupTTL = 0 },
		func(c *Config) { c.Backup.Count = 0 },
		func(c *Config) { c.Backup.Digits = 12 },
		func(c *Config) { c.OutOfBand.Digits = 2 },
		func(c *Config) { c.OutOfBand.TTL = 0 },
		func(c *Config) { c.OutOfBand.MaxAttempts = 0 },
		func(c *Config) { c.OutOfBand.ResendInterval = 0 },
		func(c *Config) { c.Monitor.AlertCooldown = 0 },
		func(c *Config) { c.Monitor.MaxStoredAlerts = 0 },
		func(c *Config) { c.Monitor.RequestWindow = 0 },
		func(c *Config) { c.Monitor.RapidRequestThreshold = 0 },
		func(c *Config) { c.Monitor.UnusualHourStart = 24 },
		func(c *Config) { c.Monitor.FingerprintThreshold = 1.5 },
		func(c *Config) { c.Monitor.PlatformWeight = -0.1 },
		func(c *Config) {
			c.Monitor.PlatformWeight = 0
			c.Monitor.OSWeight = 0
			c.Monitor.GeometryWeight = 0
		},
		func(c *Config) { c.Monitor.SelfCheckInterval = 0 },
		func(c *Config) {
			c.Events.Enabled = true
			c.Events.BufferSize = 0
		},
	}

	for i, mutate := range mutations {
		cfg := defaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("mutation %d: expected validation error", i)
		}
	}
}
