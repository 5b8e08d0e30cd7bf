// Package timewindow evaluates membership of a clock time in a daily
// window. Windows may wrap past midnight and boundaries may be anchored to
// sunrise or sunset instead of a fixed HH:MM.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Anchor identifies what a boundary is relative to.
type Anchor int

const (
	AnchorFixed Anchor = iota
	AnchorSunrise
	AnchorSunset
)

// Boundary is one edge of a window: a fixed minute of the day, or
// sunrise/sunset plus an offset in minutes.
type Boundary struct {
	Anchor Anchor
	// Minute is minutes since midnight for AnchorFixed, otherwise the
	// signed offset applied to the sun event.
	Minute int
}

// Window is a daily time range. End before Start means the window wraps
// past midnight.
type Window struct {
	Start Boundary
	End   Boundary
}

// SunTimes carries today's sun events as minutes since local midnight.
type SunTimes struct {
	Sunrise int
	Sunset  int
}

// ParseBoundary parses "HH:MM", "sunrise", "sunset", or a sun anchor with a
// minute offset such as "sunrise+30" or "sunset-45".
func ParseBoundary(s string) (Boundary, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Boundary{}, fmt.Errorf("empty time boundary")
	}

	for anchor, prefix := range map[Anchor]string{AnchorSunrise: "sunrise", AnchorSunset: "sunset"} {
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := s[len(prefix):]
		if rest == "" {
			return Boundary{Anchor: anchor}, nil
		}
		if rest[0] != '+' && rest[0] != '-' {
			return Boundary{}, fmt.Errorf("invalid sun offset %q", s)
		}
		offset, err := strconv.Atoi(rest)
		if err != nil {
			return Boundary{}, fmt.Errorf("invalid sun offset %q: %w", s, err)
		}
		return Boundary{Anchor: anchor, Minute: offset}, nil
	}

	t, err := time.Parse("15:04", s)
	if err != nil {
		return Boundary{}, fmt.Errorf("invalid time %q (want HH:MM, sunrise or sunset): %w", s, err)
	}
	return Boundary{Anchor: AnchorFixed, Minute: t.Hour()*60 + t.Minute()}, nil
}

// ParseWindow parses a start/end pair into a Window.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseBoundary(start)
	if err != nil {
		return Window{}, fmt.Errorf("start_time: %w", err)
	}
	e, err := ParseBoundary(end)
	if err != nil {
		return Window{}, fmt.Errorf("end_time: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// IsSunRelative reports whether either boundary needs sun times to resolve.
func (w Window) IsSunRelative() bool {
	return w.Start.Anchor != AnchorFixed || w.End.Anchor != AnchorFixed
}

func (b Boundary) resolve(sun SunTimes) int {
	var m int
	switch b.Anchor {
	case AnchorSunrise:
		m = sun.Sunrise + b.Minute
	case AnchorSunset:
		m = sun.Sunset + b.Minute
	default:
		m = b.Minute
	}
	m %= minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return m
}

// Contains reports whether now falls inside the window. Sun times are only
// consulted for sun-relative boundaries.
func (w Window) Contains(now time.Time, sun SunTimes) bool {
	return InWindow(MinuteOf(now), w.Start.resolve(sun), w.End.resolve(sun))
}

// MinuteOf converts a clock time to minutes since local midnight.
func MinuteOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InWindow is the membership core: start <= now < end, where end < start
// wraps past midnight (now >= start OR now < end).
func InWindow(now, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}
