// Package calendar projects a schedule into calendar events, one per
// contiguous run of a job.
package calendar

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/erg/core/model"
)

// Event is a contiguous run of one job.
type Event struct {
	JobID    string        `json:"entity_id"`
	Summary  string        `json:"summary"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"-"`
	Cost     float64       `json:"energy_cost"`
	Benefit  float64       `json:"energy_benefit"`
}

// Calendar is the event list derived from one schedule. It is never
// modified after Project returns.
type Calendar struct {
	events []Event
}

// Project builds the calendar of s. order gives the tie-break rank of each
// job for events starting at the same instant; jobs missing from it sort
// last by id.
func Project(s *model.Schedule, order map[string]int) *Calendar {
	c := &Calendar{}
	if s == nil {
		return c
	}
	for _, a := range s.Assignments {
		if model.IsSynthetic(a.JobID) || len(a.Intervals) == 0 {
			continue
		}
		c.events = append(c.events, merge(a)...)
	}
	rank := func(id string) int {
		if r, ok := order[id]; ok {
			return r
		}
		return math.MaxInt
	}
	sort.SliceStable(c.events, func(i, j int) bool {
		a, b := c.events[i], c.events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if ra, rb := rank(a.JobID), rank(b.JobID); ra != rb {
			return ra < rb
		}
		return a.JobID < b.JobID
	})
	return c
}

// merge joins touching or overlapping intervals of one assignment.
func merge(a model.Assignment) []Event {
	ivs := append([]model.RunInterval(nil), a.Intervals...)
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	name := FriendlyName(a.JobID)
	var out []Event
	var costs, benefits []float64
	var cur Event
	flush := func() {
		cur.Duration = cur.End.Sub(cur.Start)
		cur.Cost = floats.Sum(costs)
		cur.Benefit = floats.Sum(benefits)
		out = append(out, cur)
	}
	for i, iv := range ivs {
		if i > 0 && !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			costs = append(costs, iv.Cost)
			benefits = append(benefits, iv.Benefit)
			continue
		}
		if i > 0 {
			flush()
		}
		cur = Event{JobID: a.JobID, Summary: name, Start: iv.Start, End: iv.End}
		costs = []float64{iv.Cost}
		benefits = []float64{iv.Benefit}
	}
	flush()
	return out
}

// Events returns all events ordered by start.
func (c *Calendar) Events() []Event {
	return append([]Event(nil), c.events...)
}

// Len returns the number of events.
func (c *Calendar) Len() int { return len(c.events) }

// Between returns the events overlapping [from, to). A zero bound is open.
func (c *Calendar) Between(from, to time.Time) []Event {
	var out []Event
	for _, e := range c.events {
		if !to.IsZero() && !e.Start.Before(to) {
			continue
		}
		if !from.IsZero() && !e.End.After(from) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Next returns the first event that ends after now.
func (c *Calendar) Next(now time.Time) (Event, bool) {
	for _, e := range c.events {
		if e.End.After(now) {
			return e, true
		}
	}
	return Event{}, false
}

// ForJob returns the events of one job.
func (c *Calendar) ForJob(jobID string) []Event {
	var out []Event
	for _, e := range c.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// FriendlyName turns an entity id into a display name:
// "switch.pool_pump" becomes "Pool Pump".
func FriendlyName(entity string) string {
	name := entity
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	if len(words) == 0 {
		return entity
	}
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
