// Package businesshours does calling-window arithmetic in a campaign's local timezone.
//
// All comparisons are done on seconds since local midnight, so the window is
// interpreted in wall-clock time and DST transitions are resolved by the
// time package's zone rules.
package businesshours

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

// maxIterations bounds the AddBusinessHours walk. Each iteration either
// consumes window time or advances at least to the next window start.
const maxIterations = 1000

type window struct {
	loc             *time.Location
	start           int // seconds since local midnight
	end             int
	excludeWeekends bool
}

func parseWindow(cfg domain.BusinessHours) (window, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return window{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	start, err := ParseClock(cfg.Start)
	if err != nil {
		return window{}, fmt.Errorf("invalid business hours start: %w", err)
	}

	end, err := ParseClock(cfg.End)
	if err != nil {
		return window{}, fmt.Errorf("invalid business hours end: %w", err)
	}

	if end <= start {
		return window{}, fmt.Errorf("business hours end %q must be after start %q", cfg.End, cfg.Start)
	}

	return window{loc: loc, start: start, end: end, excludeWeekends: cfg.ExcludeWeekends}, nil
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into seconds since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed time %q", s)
	}

	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("malformed time %q", s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}

	return total, nil
}

// Validate reports whether cfg is complete and parseable.
func Validate(cfg domain.BusinessHours) error {
	if !cfg.IsComplete() {
		return fmt.Errorf("business hours require timezone, start and end")
	}
	_, err := parseWindow(cfg)
	return err
}

func secondsOfDay(t time.Time) int {
	h, m, s := t.Clock()
	return h*3600 + m*60 + s
}

func (w window) dayExcluded(t time.Time) bool {
	if !w.excludeWeekends {
		return false
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// at returns the instant on t's local calendar day at the given seconds since midnight.
func (w window) at(t time.Time, seconds int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, seconds/3600, (seconds%3600)/60, seconds%60, 0, w.loc)
}

// nextDayStart returns the window start on the first permitted day after t's local day.
func (w window) nextDayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, w.loc)
	for i := 0; i < 7 && w.dayExcluded(next); i++ {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, w.loc)
	}
	return w.at(next, w.start)
}

// IsWithinWindow reports whether t falls inside the inclusive [start, end]
// window on a permitted day. An incomplete or unparseable config never
// blocks dispatch.
func IsWithinWindow(t time.Time, cfg domain.BusinessHours) bool {
	if !cfg.IsComplete() {
		return true
	}

	w, err := parseWindow(cfg)
	if err != nil {
		logger.Warnf("Business hours check skipped: %v", err)
		return true
	}

	local := t.In(w.loc)
	if w.dayExcluded(local) {
		return false
	}

	tod := secondsOfDay(local)
	return tod >= w.start && tod <= w.end
}

// NextWindowStart returns the next window start at or after from. A from
// before today's start on a permitted day yields today's start; any later
// time of day advances to the next permitted day. On a config error from is
// returned unchanged.
func NextWindowStart(from time.Time, cfg domain.BusinessHours) time.Time {
	if !cfg.IsComplete() {
		return from
	}

	w, err := parseWindow(cfg)
	if err != nil {
		logger.Warnf("Next window start unavailable: %v", err)
		return from
	}

	local := from.In(w.loc)
	if !w.dayExcluded(local) && secondsOfDay(local) < w.start {
		return w.at(local, w.start).UTC()
	}

	return w.nextDayStart(local).UTC()
}

// AddBusinessHours advances from by hours, counting only time spent inside
// business-hours windows. A from outside the window is first snapped to the
// next window start, so adding zero hours to such an instant returns that
// start. With an incomplete or invalid config it falls back to plain
// wall-clock addition.
func AddBusinessHours(from time.Time, hours float64, cfg domain.BusinessHours) time.Time {
	remaining := int64(math.Round(hours * 3600))
	naive := from.Add(time.Duration(remaining) * time.Second)

	if !cfg.IsComplete() {
		return naive
	}

	w, err := parseWindow(cfg)
	if err != nil {
		logger.Warnf("Business hours arithmetic fell back to wall clock: %v", err)
		return naive
	}

	if remaining < 0 {
		remaining = 0
	}

	cursor := from.In(w.loc)
	for i := 0; i < maxIterations; i++ {
		if w.dayExcluded(cursor) {
			cursor = w.nextDayStart(cursor)
			continue
		}

		tod := secondsOfDay(cursor)
		if tod < w.start {
			cursor = w.at(cursor, w.start)
			continue
		}
		if tod > w.end {
			cursor = w.nextDayStart(cursor)
			continue
		}

		consume := min(remaining, int64(w.end-tod))
		remaining -= consume
		cursor = cursor.Add(time.Duration(consume) * time.Second)
		if remaining == 0 {
			return cursor.UTC()
		}

		cursor = w.nextDayStart(cursor)
	}

	logger.Warnf("Business hours arithmetic did not converge after %d iterations, using wall clock", maxIterations)
	return naive
}

// Format renders cfg for display, e.g. "09:00-17:00 Europe/London (weekdays only)".
func Format(cfg domain.BusinessHours) string {
	if !cfg.IsComplete() {
		return "no business hours restriction"
	}

	out := fmt.Sprintf("%s-%s %s", trimSeconds(cfg.Start), trimSeconds(cfg.End), cfg.Timezone)
	if cfg.ExcludeWeekends {
		out += " (weekdays only)"
	}
	return out
}

func trimSeconds(clock string) string {
	if strings.Count(clock, ":") == 2 && strings.HasSuffix(clock, ":00") {
		return strings.TrimSuffix(clock, ":00")
	}
	return clock
}
