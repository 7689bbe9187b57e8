package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a configured duration, taking the fallback
// when the value is blank. Config keeps durations as strings ("30s",
// "1h") so they layer cleanly across YAML, env, and flags.
func DurationOrDefault(value, fallback string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		s = strings.TrimSpace(fallback)
	}
	if s == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
