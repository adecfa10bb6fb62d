package spec

import "time"

// VersionInfo records a spec's version timestamp and what kind of change
// produced it. A scale-only update advances LastScalingAt, any other change
// advances LastConfigChangeAt; both advance Version.
type VersionInfo struct {
	Version            time.Time
	LastScalingAt      time.Time
	LastConfigChangeAt time.Time
}

// NewVersionInfo creates the version info of a spec first seen at t.
func NewVersionInfo(t time.Time) VersionInfo {
	return VersionInfo{Version: t, LastScalingAt: t, LastConfigChangeAt: t}
}

// WithScaling returns the version info after a scale-only change at t.
func (v VersionInfo) WithScaling(t time.Time) VersionInfo {
	return VersionInfo{Version: t, LastScalingAt: t, LastConfigChangeAt: v.LastConfigChangeAt}
}

// WithConfigChange returns the version info after a config change at t.
func (v VersionInfo) WithConfigChange(t time.Time) VersionInfo {
	return VersionInfo{Version: t, LastScalingAt: t, LastConfigChangeAt: t}
}

// IsZero reports whether the info carries no version yet.
func (v VersionInfo) IsZero() bool {
	return v.Version.IsZero()
}
