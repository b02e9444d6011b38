package util

import (
	"fmt"
	"time"
)

// InWindow reports whether now falls inside the configured backup window.
// Empty start and end mean no restriction. A window whose end precedes its
// start wraps past midnight (e.g. 23:00-02:00).
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	if start == "" && end == "" {
		return true, nil
	}
	loc := now.Location()
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
	}

	startMin, err := parseClock(start)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	switch {
	case start != "" && end == "":
		return cur >= startMin, nil
	case start == "" && end != "":
		return cur <= endMin, nil
	case endMin >= startMin:
		return cur >= startMin && cur <= endMin, nil
	default:
		// Wraps past midnight.
		return cur >= startMin || cur <= endMin, nil
	}
}

// parseClock converts "HH:MM" to minutes since midnight; "" parses to 0.
func parseClock(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	parsed, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
