// Package clock provides wall time and the trading calendar.
// A trading day is a weekday not in the configured holiday set; trading
// hours are the half-open interval [09:30, 16:00) in the trading time zone.
package clock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Clock provides the current wall time. The production implementation
// reads the system clock; tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Fixed returns a Clock pinned to t. Used in tests.
func Fixed(t time.Time) Clock {
	return fixedClock{t}
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

// Market open and close in minutes from midnight, trading time zone.
const (
	marketOpenMinutes  = 9*60 + 30
	marketCloseMinutes = 16 * 60
)

// Calendar decides whether an instant falls on a trading day and within
// market hours. Deterministic given an instant.
type Calendar struct {
	location *time.Location
	holidays map[string]bool // "2006-01-02" keys in the trading time zone
}

// holidayFile is the on-disk shape of the holiday calendar.
type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// NewCalendar creates a calendar for the given IANA time zone name.
// An empty name defaults to America/New_York.
func NewCalendar(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load trading time zone %s: %w", timezone, err)
	}
	return &Calendar{location: loc, holidays: make(map[string]bool)}, nil
}

// LoadHolidays reads the holiday calendar from a YAML file of dates
// ("2006-01-02"). A missing file is not an error; the holiday set stays
// empty.
func (c *Calendar) LoadHolidays(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read holiday file: %w", err)
	}

	var file holidayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse holiday file: %w", err)
	}

	for _, d := range file.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", d, c.location); err != nil {
			return fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		c.holidays[d] = true
	}
	return nil
}

// AddHoliday marks a single date ("2006-01-02") as a holiday.
func (c *Calendar) AddHoliday(date string) {
	c.holidays[date] = true
}

// Location returns the trading time zone.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// IsTradingDay reports whether the given instant falls on a trading day:
// a weekday that is not a configured holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[local.Format("2006-01-02")]
}

// IsMarketHours reports whether the given instant is within trading
// hours: [09:30, 16:00) on a trading day.
func (c *Calendar) IsMarketHours(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.location)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= marketOpenMinutes && minutes < marketCloseMinutes
}

// NextTradingDay returns the first trading day strictly after t,
// at midnight in the trading time zone.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	local := t.In(c.location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.location)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}
