package securekit

import "testing"

func TestFingerprintDiffScoring(t *testing.T) {
	cfg := defaultConfig().Monitor
	base := DeviceFingerprint{Platform: "ios", OSVersion: "17.4", ScreenWidth: 390, ScreenHeight: 844}

	score, changed := fingerprintDiff(base, base, cfg)
	if score != 0 || changed != nil {
		t.Fatalf("identical fingerprints must score zero, got %v %v", score, changed)
	}

	osOnly := base
	osOnly.OSVersion = "17.5"
	score, changed = fingerprintDiff(base, osOnly, cfg)
	if score != 0.25 {
		t.Fatalf("OS change should score 0.25, got %v", score)
	}
	if changed["os_version"] != "17.4 -> 17.5" {
		t.Fatalf("unexpected change detail %v", changed)
	}

	platform := base
	platform.Platform = "android"
	score, _ = fingerprintDiff(base, platform, cfg)
	if score != 0.5 {
		t.Fatalf("platform change should score 0.5, got %v", score)
	}

	everything := DeviceFingerprint{Platform: "android", OSVersion: "14", ScreenWidth: 1080, ScreenHeight: 2400}
	score, changed = fingerprintDiff(base, everything, cfg)
	if score != 1.0 {
		t.Fatalf("full change should score 1.0, got %v", score)
	}
	if len(changed) != 3 {
		t.Fatalf("expected 3 changed dimensions, got %v", changed)
	}
}

func TestFingerprintDiffNormalizesWeights(t *testing.T) {
	cfg := defaultConfig().Monitor
	cfg.PlatformWeight = 2
	cfg.OSWeight = 1
	cfg.GeometryWeight = 1

	base := DeviceFingerprint{Platform: "ios", OSVersion: "17.4", ScreenWidth: 390, ScreenHeight: 844}
	changedFP := base
	changedFP.Platform = "android"

	score, _ := fingerprintDiff(base, changedFP, cfg)
	if score != 0.5 {
		t.Fatalf("normalized platform score should be 0.5, got %v", score)
	}
}

func TestSeverityForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Severity
	}{
		{0.1, SeverityLow},
		{0.39, SeverityLow},
		{0.4, SeverityMedium},
		{0.69, SeverityMedium},
		{0.7, SeverityHigh},
		{1.0, SeverityHigh},
	}
	for _, c := range cases {
		if got := severityForScore(c.score); got != c.want {
			t.Fatalf("severityForScore(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}
