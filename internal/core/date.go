package core

import (
	"fmt"
	"time"
)

// Date is a calendar date with no time-of-day component. All ledger
// arithmetic is timezone-naive: a Date is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a wall-clock time to its calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as an int.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// Equal reports whether two dates are the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// StartOfMonth returns the first day of d's month.
func (d Date) StartOfMonth() Date {
	return NewDate(d.Year(), d.Month(), 1)
}

// daysInMonth returns the number of days in the given month. The
// zero-day trick normalizes to the last day of the previous month.
func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Advance computes the next occurrence of a recurring series after
// date, per interval. Arithmetic is calendar-based, not fixed-duration:
// MONTHLY targets the same day-of-month in the next month, clamped to
// the last valid day when the target month is shorter (Jan 31 -> Feb 28
// or 29); YEARLY targets the same month/day next year, with Feb 29
// clamped to Feb 28 on non-leap years.
func Advance(date Date, interval RecurringInterval) Date {
	switch interval {
	case IntervalDaily:
		return Date{Time: date.AddDate(0, 0, 1)}
	case IntervalWeekly:
		return Date{Time: date.AddDate(0, 0, 7)}
	case IntervalMonthly:
		year, month := date.Year(), date.Month()+1
		if month > 12 {
			month = 1
			year++
		}
		day := date.Day()
		if last := daysInMonth(year, month); day > last {
			day = last
		}
		return NewDate(year, month, day)
	case IntervalYearly:
		year := date.Year() + 1
		day := date.Day()
		if last := daysInMonth(year, date.Month()); day > last {
			day = last
		}
		return NewDate(year, date.Month(), day)
	default:
		// Unknown intervals are rejected at validation; advancing by a
		// day keeps a buggy caller from looping forever on equal dates.
		return Date{Time: date.AddDate(0, 0, 1)}
	}
}
