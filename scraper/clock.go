package scraper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseClock converts "MM:SS" or "HH:MM:SS" to seconds.
func ParseClock(value string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time %q must be MM:SS or HH:MM:SS", value)
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("time %q must be MM:SS or HH:MM:SS", value)
		}
		total = total*60 + n
	}
	return float64(total), nil
}

// ErrRangeStart is returned when a requested range begins at or after the
// end of the video.
var ErrRangeStart = errors.New("start time is beyond video duration")

// ClampRange validates r against the video duration. An end past the
// duration is pulled back to it and clamped is set so the caller can warn.
func ClampRange(r TimeRange, duration float64) (out TimeRange, clamped bool, err error) {
	if duration > 0 && r.Start >= duration {
		return r, false, fmt.Errorf("%w: start %.0fs, duration %.0fs", ErrRangeStart, r.Start, duration)
	}
	if duration > 0 && r.End > duration {
		r.End = duration
		clamped = true
	}
	if r.End <= r.Start {
		return r, clamped, fmt.Errorf("end time %.0fs must be greater than start time %.0fs", r.End, r.Start)
	}
	return r, clamped, nil
}
