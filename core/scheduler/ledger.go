package scheduler

import (
	"sync"
	"time"

	"github.com/kilianp07/erg/core/model"
)

// Ledger accumulates how long each job has already run today according to
// the schedules that were in force. It resets at local midnight.
type Ledger struct {
	mu      sync.Mutex
	loc     *time.Location
	day     time.Time
	last    time.Time
	elapsed map[string]time.Duration
}

// NewLedger returns an empty ledger for the given location.
func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{loc: loc, elapsed: make(map[string]time.Duration)}
}

// Observe credits every interval of prev that ended in (last observation,
// now]. The first observation of a day only records the time.
func (l *Ledger) Observe(prev *model.Schedule, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := dateOf(now, l.loc)
	if l.day.IsZero() || !today.Equal(l.day) {
		l.day = today
		l.elapsed = make(map[string]time.Duration)
		l.last = now
		return
	}
	if prev == nil || l.last.IsZero() {
		l.last = now
		return
	}
	for _, a := range prev.Assignments {
		if model.IsSynthetic(a.JobID) {
			continue
		}
		for _, iv := range a.Intervals {
			if iv.End.After(l.last) && !iv.End.After(now) {
				l.elapsed[a.JobID] += iv.Duration()
			}
		}
	}
	l.last = now
}

// Elapsed returns the run time credited to jobID today.
func (l *Ledger) Elapsed(jobID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.elapsed[jobID]
}

// Day returns the local date the ledger currently counts for.
func (l *Ledger) Day() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.day
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
