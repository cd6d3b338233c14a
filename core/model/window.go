package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ClockTime is a time of day with minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	c := ClockTime{Hour: h, Minute: m}
	if !c.Valid() {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return c, nil
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Valid reports whether the clock time lies within a day.
func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60
}

// Offset returns the duration since midnight.
func (c ClockTime) Offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// On returns the instant of c on the calendar date of d in loc.
func (c ClockTime) On(d time.Time, loc *time.Location) time.Time {
	d = d.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// Window is an absolute half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the window, zero when empty.
func (w Window) Duration() time.Duration {
	if !w.End.After(w.Start) {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Empty reports whether the window has no extent.
func (w Window) Empty() bool { return !w.End.After(w.Start) }

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the two windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Intersect returns the common part of both windows. The result is empty
// when they do not overlap.
func (w Window) Intersect(o Window) Window {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return Window{Start: start, End: start}
	}
	return Window{Start: start, End: end}
}

// DailyWindow is a recurring time-of-day window. When End <= Start the
// window wraps past midnight.
type DailyWindow struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Wraps reports whether the window crosses midnight.
func (w DailyWindow) Wraps() bool { return w.End.Offset() <= w.Start.Offset() }

// Duration returns the window length; wrapped windows add 24h.
func (w DailyWindow) Duration() time.Duration {
	d := w.End.Offset() - w.Start.Offset()
	if d <= 0 {
		d += day
	}
	return d
}

// Occurrence anchors the window on the calendar date of d. Wrapped windows
// end on the following date.
func (w DailyWindow) Occurrence(d time.Time, loc *time.Location) Window {
	start := w.Start.On(d, loc)
	end := w.End.On(d, loc)
	if w.Wraps() {
		end = w.End.On(start.AddDate(0, 0, 1), loc)
	}
	return Window{Start: start, End: end}
}

// Occurrences lists every occurrence overlapping q, ordered by start. The
// optional match filter selects the dates the window starts on.
func (w DailyWindow) Occurrences(q Window, loc *time.Location, match func(time.Time) bool) []Window {
	if q.Empty() {
		return nil
	}
	// A wrapped occurrence that started the day before q can still overlap it.
	first := q.Start.In(loc).AddDate(0, 0, -1)
	d := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	var out []Window
	for !d.After(q.End) {
		if match == nil || match(d) {
			occ := w.Occurrence(d, loc)
			if occ.Overlaps(q) {
				out = append(out, occ)
			}
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// Overlaps reports whether any occurrence of the daily window overlaps q.
func (w DailyWindow) Overlaps(q Window, loc *time.Location) bool {
	return len(w.Occurrences(q, loc, nil)) > 0
}

// Split returns the non-wrapped parts of the window. A wrapped window
// becomes [Start, 24:00) and [00:00, End); the second part is omitted when
// End is midnight.
func (w DailyWindow) Split() []DailyWindow {
	if !w.Wraps() {
		return []DailyWindow{w}
	}
	midnight := ClockTime{}
	parts := []DailyWindow{{Start: w.Start, End: midnight}}
	if w.End != midnight {
		parts = append(parts, DailyWindow{Start: midnight, End: w.End})
	}
	return parts
}

// Interval returns the non-wrapped occurrence of the window on the date of
// d. For a part produced by Split that ends at midnight, the end is the next
// midnight.
func (w DailyWindow) Interval(d time.Time, loc *time.Location) Window {
	start := w.Start.On(d, loc)
	end := w.End.On(d, loc)
	if !end.After(start) {
		end = ClockTime{}.On(start.AddDate(0, 0, 1), loc)
	}
	return Window{Start: start, End: end}
}

func (w DailyWindow) String() string { return w.Start.String() + "-" + w.End.String() }
