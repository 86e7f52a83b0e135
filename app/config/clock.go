package config

import (
	"strconv"
	"strings"
)

// Clock is a time of day in local time.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// ParseClock parses "HH:MM". ok is false for anything out of range.
func ParseClock(s string) (Clock, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Clock{}, false
	}
	m := 0
	if len(parts) > 1 {
		if m, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return Clock{}, false
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return Clock{}, false
	}
	return Clock{Hour: h, Minute: m}, true
}

// TaskClock parses a task's run time, falling back to 08:00.
func TaskClock(s string) Clock {
	if c, ok := ParseClock(s); ok {
		return c
	}
	return Clock{Hour: 8}
}
