package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/orchestra/pkg/resilience"
)

// Backpressure profile names
const (
	ProfileBalanced     = "balanced"
	ProfileConservative = "conservative"
	ProfileAggressive   = "aggressive"
	// ProfileLegacy counts overload signals without gating requests.
	ProfileLegacy = "legacy"
	ProfileOff    = "off"
)

var backpressureProfiles = map[string]resilience.BackpressureConfig{
	ProfileBalanced: resilience.DefaultBackpressureConfig(),
	ProfileConservative: {
		Enabled:         true,
		InitialMax:      12,
		SoftFactor:      0.60,
		SevereFactor:    0.40,
		RecoveryStep:    1,
		DecayQuiet:      4 * time.Second,
		Floor:           1,
		SevereThreshold: 2,
	},
	ProfileAggressive: {
		Enabled:         true,
		InitialMax:      24,
		SoftFactor:      0.80,
		SevereFactor:    0.60,
		RecoveryStep:    2,
		DecayQuiet:      time.Second,
		Floor:           2,
		SevereThreshold: 4,
	},
	ProfileLegacy: func() resilience.BackpressureConfig {
		cfg := resilience.DefaultBackpressureConfig()
		cfg.ObserveOnly = true
		return cfg
	}(),
	ProfileOff: {},
}

// ProfileNames lists the supported backpressure profiles.
func ProfileNames() []string {
	return []string{ProfileBalanced, ProfileConservative, ProfileAggressive, ProfileLegacy, ProfileOff}
}

// Resolve returns the profile's settings with explicit overrides applied.
func (c BackpressureConfig) Resolve() (resilience.BackpressureConfig, error) {
	name := strings.ToLower(strings.TrimSpace(c.Profile))
	if name == "" {
		name = ProfileBalanced
	}
	resolved, ok := backpressureProfiles[name]
	if !ok {
		return resilience.BackpressureConfig{}, fmt.Errorf("unknown backpressure profile %q (must be one of: %v)", c.Profile, ProfileNames())
	}
	if !resolved.Enabled {
		return resolved, nil
	}

	if c.InitialMax > 0 {
		resolved.InitialMax = c.InitialMax
	}
	if c.SoftFactor > 0 {
		resolved.SoftFactor = c.SoftFactor
	}
	if c.SevereFactor > 0 {
		resolved.SevereFactor = c.SevereFactor
	}
	if c.RecoveryStep > 0 {
		resolved.RecoveryStep = c.RecoveryStep
	}
	if c.DecayQuiet > 0 {
		resolved.DecayQuiet = c.DecayQuiet
	}
	if c.Floor > 0 {
		resolved.Floor = c.Floor
	}
	if c.SevereThreshold > 0 {
		resolved.SevereThreshold = c.SevereThreshold
	}
	return resolved, nil
}
