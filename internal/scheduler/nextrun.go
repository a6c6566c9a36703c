package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mhalvorsen/lookout/internal/clock"
	"github.com/mhalvorsen/lookout/internal/modules/schedules"
)

// nextRun computes when a schedule fires again after running at now.
// earnings is the target stock's next earnings date when one is known.
// A nil return means the schedule has no next occurrence (once, or an
// earnings-relative schedule with no earnings date).
func nextRun(s *schedules.Schedule, earnings *time.Time, now time.Time, cal *clock.Calendar) *time.Time {
	loc := cal.Location()
	local := now.In(loc)

	switch s.Frequency {
	case schedules.FreqOnce:
		return nil

	case schedules.FreqDaily:
		next := atTimeOfDay(local.AddDate(0, 0, 1), s.TimeOfDay, loc)
		if s.TradingDaysOnly && !cal.IsTradingDay(next) {
			next = atTimeOfDay(cal.NextTradingDay(next), s.TimeOfDay, loc)
		}
		return &next

	case schedules.FreqWeekly:
		next := atTimeOfDay(local, s.TimeOfDay, loc)
		for next.Weekday() != time.Weekday(s.DayOfWeek) || !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return &next

	case schedules.FreqInterval:
		next := now.Add(time.Duration(s.IntervalMinutes) * time.Minute)
		return &next

	case schedules.FreqPreEarnings:
		if earnings == nil {
			return nil
		}
		next := atTimeOfDay(earnings.In(loc).AddDate(0, 0, -s.DaysBeforeEarnings), s.TimeOfDay, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 7)
		}
		return &next

	case schedules.FreqPostEarnings:
		if earnings == nil {
			return nil
		}
		next := atTimeOfDay(earnings.In(loc).AddDate(0, 0, s.DaysAfterEarnings), s.TimeOfDay, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 7)
		}
		return &next

	case schedules.FreqCron:
		spec, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return nil
		}
		next := spec.Next(local)
		return &next
	}
	return nil
}

// atTimeOfDay places tod ("15:04", empty means midnight) on day's date
// in loc.
func atTimeOfDay(day time.Time, tod string, loc *time.Location) time.Time {
	hour, minute := 0, 0
	if t, err := time.Parse("15:04", tod); err == nil {
		hour, minute = t.Hour(), t.Minute()
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}
