package securekit

import (
	"fmt"
	"time"
)

const entityFingerprint = "fingerprint"

func captureFingerprint(source DeviceSource, now time.Time) DeviceFingerprint {
	w, h := source.ScreenSize()
	return DeviceFingerprint{
		Platform:     source.Platform(),
		OSVersion:    source.OSVersion(),
		ScreenWidth:  w,
		ScreenHeight: h,
		CapturedAt:   now,
	}
}

// fingerprintDiff scores the differences between the stored and freshly
// captured fingerprints. Each differing dimension contributes its configured
// weight; the result is normalized to [0, 1] against the total weight so the
// threshold stays meaningful under reweighting. Platform changes carry the
// highest default weight: a device does not change operating system family
// mid-install without something being very wrong.
func fingerprintDiff(prev, current DeviceFingerprint, cfg MonitorConfig) (float64, map[string]string) {
	total := cfg.PlatformWeight + cfg.OSWeight + cfg.GeometryWeight
	if total == 0 {
		return 0, nil
	}

	score := 0.0
	changed := make(map[string]string)

	if prev.Platform != current.Platform {
		score += cfg.PlatformWeight
		changed["platform"] = fmt.Sprintf("%s -> %s", prev.Platform, current.Platform)
	}
	if prev.OSVersion != current.OSVersion {
		score += cfg.OSWeight
		changed["os_version"] = fmt.Sprintf("%s -> %s", prev.OSVersion, current.OSVersion)
	}
	if prev.ScreenWidth != current.ScreenWidth || prev.ScreenHeight != current.ScreenHeight {
		score += cfg.GeometryWeight
		changed["screen"] = fmt.Sprintf("%dx%d -> %dx%d",
			prev.ScreenWidth, prev.ScreenHeight, current.ScreenWidth, current.ScreenHeight)
	}

	if len(changed) == 0 {
		return 0, nil
	}
	return score / total, changed
}

func severityForScore(score float64) Severity {
	switch {
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
