package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ParseSchedule accepts a Go duration ("15m") or a cron expression ("0 8 * * *").
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@every"))
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("invalid schedule %q: interval must be positive", s)
		}
		return Every(d), nil
	}
	ce, err := ParseCronExpression(s)
	if err != nil {
		return nil, err
	}
	return ce, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
//	"*/15 * * * *"  every 15 minutes
//	"0 8 * * *"     every day at 08:00
//	"0 7 * * 1-5"   weekdays at 07:00
type CronExpression struct {
	raw      string
	minutes  [60]bool
	hours    [24]bool
	days     [32]bool
	months   [13]bool
	weekdays [7]bool
}

// ParseCronExpression parses a cron expression.
// Each field supports *, n, n-m, */s, n-m/s and comma separated lists.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{raw: expr}
	specs := []struct {
		name     string
		min, max int
		set      []bool
	}{
		{"minute", 0, 59, ce.minutes[:]},
		{"hour", 0, 23, ce.hours[:]},
		{"day", 1, 31, ce.days[:]},
		{"month", 1, 12, ce.months[:]},
		{"weekday", 0, 6, ce.weekdays[:]},
	}
	for i, spec := range specs {
		if err := parseField(fields[i], spec.min, spec.max, spec.set); err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
	}

	return ce, nil
}

// MustParseCron is ParseCronExpression for expressions known at compile time.
func MustParseCron(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

func parseField(field string, min, max int, set []bool) error {
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")

		step := 1
		if hasStep {
			var err error
			step, err = strconv.Atoi(stepStr)
			if err != nil || step <= 0 {
				return fmt.Errorf("invalid step %q", stepStr)
			}
		}

		start, end := min, max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			lo, hi, _ := strings.Cut(rng, "-")
			var err error
			if start, err = bound(lo, min, max); err != nil {
				return err
			}
			if end, err = bound(hi, min, max); err != nil {
				return err
			}
			if start > end {
				return fmt.Errorf("invalid range %q", rng)
			}
		default:
			v, err := bound(rng, min, max)
			if err != nil {
				return err
			}
			start = v
			if !hasStep {
				end = v
			}
		}

		for v := start; v <= end; v += step {
			set[v] = true
		}
	}
	return nil
}

func bound(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: %d", min, max, v)
	}
	return v, nil
}

func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute after the given time, or the zero
// time if nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return ce.minutes[t.Minute()] &&
		ce.hours[t.Hour()] &&
		ce.days[t.Day()] &&
		ce.months[t.Month()] &&
		ce.weekdays[t.Weekday()]
}
