package expiry

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultExpiringSoonDays is the window used when a caller does not pick one
	DefaultExpiringSoonDays = 60

	// CriticalDays is the inclusive upper bound for the critical level
	CriticalDays = 30

	// WarningDays is the inclusive upper bound for the warning level
	WarningDays = 90
)

// ErrInvalidFormat is returned when a month/year value cannot be used as a date
var ErrInvalidFormat = errors.New("invalid expiry format")

var monthYearPattern = regexp.MustCompile(`^(\d{2})/(\d{4})$`)

// MonthYear is an expiry date with month granularity
type MonthYear struct {
	Month int
	Year  int
}

// String returns the canonical MM/YYYY form
func (m MonthYear) String() string {
	return fmt.Sprintf("%02d/%04d", m.Month, m.Year)
}

// Valid reports whether the month is in [1,12] and the year is positive
func (m MonthYear) Valid() bool {
	return m.Month >= 1 && m.Month <= 12 && m.Year >= 1
}

// Before reports whether m is an earlier month than other
func (m MonthYear) Before(other MonthYear) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// Of returns the month/year that t falls in
func Of(t time.Time) MonthYear {
	return MonthYear{Month: int(t.Month()), Year: t.Year()}
}

// ToFirstOfMonth returns midnight UTC on the first day of the month
func ToFirstOfMonth(m MonthYear) (time.Time, error) {
	if !m.Valid() {
		return time.Time{}, fmt.Errorf("%w: month %d year %d", ErrInvalidFormat, m.Month, m.Year)
	}
	return m.Start(time.UTC), nil
}

// Start returns midnight on the first day of the month in loc. It does not
// validate; use ToFirstOfMonth for unchecked values.
func (m MonthYear) Start(loc *time.Location) time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, loc)
}

// Parse reads a strict MM/YYYY string. The boolean is false for empty or
// malformed input, which callers treat as "no date known".
func Parse(text string) (MonthYear, bool) {
	match := monthYearPattern.FindStringSubmatch(text)
	if match == nil {
		return MonthYear{}, false
	}
	month, _ := strconv.Atoi(match[1])
	year, _ := strconv.Atoi(match[2])
	m := MonthYear{Month: month, Year: year}
	if !m.Valid() {
		return MonthYear{}, false
	}
	return m, true
}

// ParseStrict is Parse for callers that want malformed input reported
func ParseStrict(text string) (MonthYear, error) {
	m, ok := Parse(text)
	if !ok {
		return MonthYear{}, fmt.Errorf("%w: %q, expected MM/YYYY", ErrInvalidFormat, text)
	}
	return m, nil
}

// IsExpired reports whether the expiry month is the reference month or
// earlier. Unparseable input is never expired.
func IsExpired(text string, ref time.Time) bool {
	m, ok := Parse(text)
	if !ok {
		return false
	}
	return !Of(ref).Before(m)
}

// DaysUntilExpiry returns the signed calendar day count from ref to the first
// of the expiry month, rounded up. Negative once the month has started.
func DaysUntilExpiry(text string, ref time.Time) (int, bool) {
	m, ok := Parse(text)
	if !ok {
		return 0, false
	}
	return daysBetween(wallClock(ref), m.Start(time.UTC)), true
}

// wallClock moves t's date and time of day to UTC, so that differences are
// not skewed by daylight saving changes in t's location
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

// IsExpiringSoon reports whether the expiry month starts after ref and no
// later than thresholdDays after ref. Unlike IsExpired this compares against
// the exact reference instant rather than the start of its month.
func IsExpiringSoon(text string, thresholdDays int, ref time.Time) bool {
	m, ok := Parse(text)
	if !ok {
		return false
	}
	start := m.Start(ref.Location())
	if !start.After(ref) {
		return false
	}
	return !start.After(ref.AddDate(0, 0, thresholdDays))
}
