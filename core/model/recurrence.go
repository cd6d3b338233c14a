package model

import (
	"fmt"
	"time"
)

// Frequency selects which calendar dates a recurring window applies to.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekends Frequency = "weekends"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyCustom   Frequency = "custom"
)

// Recurrence is a recurrence pattern. Days are numbered 0..6 starting on
// Monday; weekly uses exactly one day and custom a non-empty set.
type Recurrence struct {
	Frequency Frequency `json:"frequency"`
	Days      []int     `json:"days,omitempty"`
}

// Weekday converts a date to the Monday-based day number.
func Weekday(t time.Time) int { return (int(t.Weekday()) + 6) % 7 }

// Validate checks the day set against the frequency.
func (r Recurrence) Validate() error {
	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("day %d out of range 0..6", d)
		}
	}
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekdays, FrequencyWeekends:
		return nil
	case FrequencyWeekly:
		if len(r.Days) != 1 {
			return fmt.Errorf("weekly recurrence requires exactly one day, got %d", len(r.Days))
		}
		return nil
	case FrequencyCustom:
		if len(r.Days) == 0 {
			return fmt.Errorf("custom recurrence requires at least one day")
		}
		return nil
	default:
		return fmt.Errorf("unknown frequency %q", r.Frequency)
	}
}

// Matches reports whether the pattern applies on the date of t.
func (r Recurrence) Matches(t time.Time) bool {
	wd := Weekday(t)
	switch r.Frequency {
	case FrequencyDaily:
		return true
	case FrequencyWeekdays:
		return wd <= 4
	case FrequencyWeekends:
		return wd >= 5
	case FrequencyWeekly, FrequencyCustom:
		for _, d := range r.Days {
			if d == wd {
				return true
			}
		}
	}
	return false
}

func (r Recurrence) clone() Recurrence {
	if r.Days != nil {
		r.Days = append([]int(nil), r.Days...)
	}
	return r
}
