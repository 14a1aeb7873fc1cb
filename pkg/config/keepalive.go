package config

import (
	"fmt"
	"strconv"
	"time"
)

const (
	defaultKeepaliveEnabled     = true
	defaultKeepaliveInterval    = 60
	defaultKeepaliveMaxFailures = 3

	// MinKeepaliveIntervalMinutes and MaxKeepaliveIntervalMinutes bound the refresh interval.
	MinKeepaliveIntervalMinutes = 5
	MaxKeepaliveIntervalMinutes = 1440
)

// KeepaliveSettings configures the session keepalive supervisor.
type KeepaliveSettings struct {
	Enabled         bool
	IntervalMinutes int
	MaxFailures     int
}

// DefaultKeepalive returns the keepalive defaults.
func DefaultKeepalive() KeepaliveSettings {
	return KeepaliveSettings{
		Enabled:         defaultKeepaliveEnabled,
		IntervalMinutes: defaultKeepaliveInterval,
		MaxFailures:     defaultKeepaliveMaxFailures,
	}
}

// ResolveKeepalive parses raw environment strings. Empty strings select
// defaults. Non-numeric intervals fall back to the default and out-of-range
// intervals are clamped to [5,1440]; both produce a warning.
func ResolveKeepalive(enabled, interval, maxFailures string) (KeepaliveSettings, []string) {
	s := DefaultKeepalive()
	var warnings []string

	if enabled != "" {
		s.Enabled = parseBool(enabled, defaultKeepaliveEnabled)
	}

	if interval != "" {
		minutes, err := strconv.Atoi(interval)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a number, using default %d",
				EnvKeepaliveInterval, interval, defaultKeepaliveInterval))
		case minutes < MinKeepaliveIntervalMinutes:
			warnings = append(warnings, fmt.Sprintf("%s=%d is below minimum, clamped to %d",
				EnvKeepaliveInterval, minutes, MinKeepaliveIntervalMinutes))
			s.IntervalMinutes = MinKeepaliveIntervalMinutes
		case minutes > MaxKeepaliveIntervalMinutes:
			warnings = append(warnings, fmt.Sprintf("%s=%d is above maximum, clamped to %d",
				EnvKeepaliveInterval, minutes, MaxKeepaliveIntervalMinutes))
			s.IntervalMinutes = MaxKeepaliveIntervalMinutes
		default:
			s.IntervalMinutes = minutes
		}
	}

	if maxFailures != "" {
		n, err := strconv.Atoi(maxFailures)
		if err != nil || n < 1 {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a positive integer, using default %d",
				EnvKeepaliveFailures, maxFailures, defaultKeepaliveMaxFailures))
		} else {
			s.MaxFailures = n
		}
	}

	return s, warnings
}

// Interval returns the refresh interval as a duration.
func (s KeepaliveSettings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Validate validates the settings.
func (s KeepaliveSettings) Validate() error {
	if s.IntervalMinutes < MinKeepaliveIntervalMinutes || s.IntervalMinutes > MaxKeepaliveIntervalMinutes {
		return fmt.Errorf("keepalive interval must be between %d and %d minutes, got %d",
			MinKeepaliveIntervalMinutes, MaxKeepaliveIntervalMinutes, s.IntervalMinutes)
	}
	if s.MaxFailures < 1 {
		return fmt.Errorf("keepalive max failures must be at least 1, got %d", s.MaxFailures)
	}
	return nil
}
