// Package schedule keeps the schedule currently in force and refreshes it
// from the solver.
package schedule

import (
	"sync/atomic"
	"time"

	"github.com/kilianp07/erg/core/model"
)

type entry struct {
	sched      *model.Schedule
	generation uint64
}

type failure struct {
	at  time.Time
	err error
}

// Holder publishes the current schedule to concurrent readers. A reader
// always sees a schedule together with the generation it was installed as.
type Holder struct {
	cur         atomic.Pointer[entry]
	lastFailure atomic.Pointer[failure]
	failures    atomic.Uint64
}

// NewHolder returns an empty holder.
func NewHolder() *Holder { return &Holder{} }

// Install makes s the current schedule and returns its generation.
// Generations start at 1.
func (h *Holder) Install(s *model.Schedule) uint64 {
	for {
		old := h.cur.Load()
		var gen uint64 = 1
		if old != nil {
			gen = old.generation + 1
		}
		if h.cur.CompareAndSwap(old, &entry{sched: s, generation: gen}) {
			h.failures.Store(0)
			return gen
		}
	}
}

// Load returns the current schedule and its generation. The schedule is nil
// and the generation zero before the first install.
func (h *Holder) Load() (*model.Schedule, uint64) {
	e := h.cur.Load()
	if e == nil {
		return nil, 0
	}
	return e.sched, e.generation
}

// Current returns the current schedule or nil.
func (h *Holder) Current() *model.Schedule {
	s, _ := h.Load()
	return s
}

// Generation returns the generation of the current schedule.
func (h *Holder) Generation() uint64 {
	_, g := h.Load()
	return g
}

// LastSuccess returns the fetch time of the current schedule.
func (h *Holder) LastSuccess() (time.Time, bool) {
	s := h.Current()
	if s == nil {
		return time.Time{}, false
	}
	return s.FetchedAt, true
}

// Age returns how long ago the current schedule was fetched.
func (h *Holder) Age(now time.Time) (time.Duration, bool) {
	at, ok := h.LastSuccess()
	if !ok {
		return 0, false
	}
	return now.Sub(at), true
}

// RecordFailure notes a failed fetch. The current schedule is untouched.
func (h *Holder) RecordFailure(at time.Time, err error) {
	h.lastFailure.Store(&failure{at: at, err: err})
	h.failures.Add(1)
}

// Status is a point-in-time view of the holder.
type Status struct {
	Generation          uint64     `json:"generation"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures uint64     `json:"consecutive_failures"`
}

// Status reports the holder state.
func (h *Holder) Status() Status {
	st := Status{Generation: h.Generation(), ConsecutiveFailures: h.failures.Load()}
	if at, ok := h.LastSuccess(); ok {
		st.LastSuccess = &at
	}
	if f := h.lastFailure.Load(); f != nil {
		at := f.at
		st.LastFailure = &at
		if f.err != nil {
			st.LastError = f.err.Error()
		}
	}
	return st
}
