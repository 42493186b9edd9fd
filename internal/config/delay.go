package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delay is a parsed response delay: a fixed duration when Min == Max, or an
// inclusive range the executor draws from at request time.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Fixed reports whether the delay collapses to a single duration.
func (d Delay) Fixed() bool { return d.Min == d.Max }

// ParseDelay accepts "100ms", "2s", or "100ms-500ms" style strings. Range
// bounds may mix units as long as min does not exceed max.
func ParseDelay(s string) (Delay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Delay{}, fmt.Errorf("config: empty delay")
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		minD, err := parseDelayValue(lo)
		if err != nil {
			return Delay{}, err
		}
		maxD, err := parseDelayValue(hi)
		if err != nil {
			return Delay{}, err
		}
		if minD > maxD {
			return Delay{}, fmt.Errorf("config: delay range %q has min greater than max", s)
		}
		return Delay{Min: minD, Max: maxD}, nil
	}
	d, err := parseDelayValue(s)
	if err != nil {
		return Delay{}, err
	}
	return Delay{Min: d, Max: d}, nil
}

// FormatDelay renders a Delay back into the canonical config syntax, using
// whole seconds when the value divides evenly and milliseconds otherwise.
func FormatDelay(d Delay) string {
	if d.Fixed() {
		return formatDelayValue(d.Min)
	}
	return formatDelayValue(d.Min) + "-" + formatDelayValue(d.Max)
}

func parseDelayValue(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("config: invalid milliseconds in delay %q", s)
		}
		return time.Duration(n) * time.Millisecond, nil
	case strings.HasSuffix(s, "s"):
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "s"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("config: invalid seconds in delay %q", s)
		}
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("config: delay %q must end in ms or s", s)
	}
}

func formatDelayValue(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
	return strconv.FormatInt(int64(d/time.Millisecond), 10) + "ms"
}
