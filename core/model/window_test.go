package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 7, Minute: 5}, c)
	assert.Equal(t, "07:05", c.String())

	for _, in := range []string{"7:05", "24:00", "12:60", "ab:cd", "12", "12:00:00"} {
		_, err := ParseClock(in)
		assert.Error(t, err, in)
	}
}

func TestDailyWindowWrapsDuration(t *testing.T) {
	w := DailyWindow{Start: MustClock("22:00"), End: MustClock("02:00")}
	assert.True(t, w.Wraps())
	assert.Equal(t, 4*time.Hour, w.Duration())

	full := DailyWindow{Start: MustClock("06:00"), End: MustClock("06:00")}
	assert.Equal(t, 24*time.Hour, full.Duration())

	plain := DailyWindow{Start: MustClock("09:00"), End: MustClock("17:00")}
	assert.False(t, plain.Wraps())
	assert.Equal(t, 8*time.Hour, plain.Duration())
}

func TestDailyWindowOccurrenceCrossesMidnight(t *testing.T) {
	w := DailyWindow{Start: MustClock("22:00"), End: MustClock("02:00")}
	d := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	occ := w.Occurrence(d, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC), occ.Start)
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), occ.End)
}

func TestDailyWindowOccurrencesIncludePreviousDay(t *testing.T) {
	w := DailyWindow{Start: MustClock("22:00"), End: MustClock("02:00")}
	q := Window{
		Start: time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC),
	}
	occ := w.Occurrences(q, time.UTC, nil)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC), occ[0].Start)
	assert.Equal(t, time.Date(2025, 3, 11, 22, 0, 0, 0, time.UTC), occ[1].Start)
}

// overlapsBySplit evaluates the window the long way: every non-wrapped part
// on every candidate date.
func overlapsBySplit(w DailyWindow, q Window, loc *time.Location) bool {
	first := q.Start.In(loc).AddDate(0, 0, -2)
	d := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	for !d.After(q.End.AddDate(0, 0, 1)) {
		for _, p := range w.Split() {
			if p.Interval(d, loc).Overlaps(q) {
				return true
			}
		}
		d = d.AddDate(0, 0, 1)
	}
	return false
}

func TestDailyWindowOverlapMatchesSplit(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		paris = time.FixedZone("CET", 3600)
	}
	base := time.Date(2025, 3, 29, 0, 0, 0, 0, paris)
	for _, loc := range []*time.Location{time.UTC, paris} {
		for sh := 0; sh < 24; sh += 3 {
			for eh := 0; eh < 24; eh += 5 {
				w := DailyWindow{Start: ClockTime{Hour: sh, Minute: 30}, End: ClockTime{Hour: eh}}
				for qs := 0; qs < 48; qs += 7 {
					for _, ql := range []time.Duration{15 * time.Minute, 2 * time.Hour, 20 * time.Hour} {
						start := base.Add(time.Duration(qs) * time.Hour)
						q := Window{Start: start, End: start.Add(ql)}
						assert.Equal(t, overlapsBySplit(w, q, loc), w.Overlaps(q, loc),
							"window %s query %s..%s in %s", w, q.Start, q.End, loc)
					}
				}
			}
		}
	}
}

func TestSplitEndingAtMidnight(t *testing.T) {
	w := DailyWindow{Start: MustClock("20:00"), End: MustClock("00:00")}
	parts := w.Split()
	require.Len(t, parts, 1)
	iv := parts[0].Interval(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, 4*time.Hour, iv.Duration())
}

func TestWindowIntersect(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Window{Start: t0, End: t0.Add(4 * time.Hour)}
	b := Window{Start: t0.Add(2 * time.Hour), End: t0.Add(6 * time.Hour)}
	got := a.Intersect(b)
	assert.Equal(t, Window{Start: t0.Add(2 * time.Hour), End: t0.Add(4 * time.Hour)}, got)

	c := Window{Start: t0.Add(5 * time.Hour), End: t0.Add(6 * time.Hour)}
	assert.True(t, a.Intersect(c).Empty())
	assert.False(t, a.Overlaps(c))
	assert.True(t, a.Contains(t0))
	assert.False(t, a.Contains(a.End))
}
