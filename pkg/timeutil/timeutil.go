// Package timeutil provides timezone-aware formatting and parsing for the
// times that appear in notification bodies and gateway callbacks.
// Crews work in South Africa, so the default zone is Africa/Johannesburg.
package timeutil

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultZoneName is the zone used when none is configured.
const DefaultZoneName = "Africa/Johannesburg"

// SAST is South African Standard Time (UTC+2, no DST). It is used when the
// host has no tzdata for the default zone.
var SAST = time.FixedZone("SAST", 2*60*60)

// Common layouts.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
)

// NotSet is shown for a missing time.
const NotSet = "Not set"

// LoadZone resolves a zone name. An empty name means DefaultZoneName.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultZoneName {
			return SAST, nil
		}
		return nil, fmt.Errorf("timeutil: unknown zone %q: %w", name, err)
	}
	return loc, nil
}

// In converts t to loc, falling back to SAST when loc is nil.
func In(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = SAST
	}
	return t.In(loc)
}

// FormatDue formats an optional deadline as "2006-01-02 15:04" in loc, or
// NotSet when t is nil.
func FormatDue(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return NotSet
	}
	return In(*t, loc).Format(FormatDateTime)
}

// FormatDay formats t as a date in loc.
func FormatDay(t time.Time, loc *time.Location) string {
	return In(t, loc).Format(FormatDate)
}

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := In(t, loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// EndOfDay returns the last instant of t's day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// DaysUntil returns the number of calendar days in loc from now to t.
// It is negative when t is in the past.
func DaysUntil(now, t time.Time, loc *time.Location) int {
	from := StartOfDay(now, loc)
	to := StartOfDay(t, loc)
	return int(math.Round(to.Sub(from).Hours() / 24))
}

// ErrInvalidTimestamp is returned by ParseTimestamp.
var ErrInvalidTimestamp = errors.New("timeutil: invalid timestamp")

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
// Numbers above 1e12 are taken as milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return time.Time{}, ErrInvalidTimestamp
		}
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.UTC(), nil
}
