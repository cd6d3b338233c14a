package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/tariff"
)

// ErrIneligible marks jobs left out of a solver request.
var ErrIneligible = errors.New("job ineligible for horizon")

// Ineligible explains why a job was not submitted.
type Ineligible struct {
	JobID  string
	Reason string
}

func (e *Ineligible) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrIneligible, e.JobID, e.Reason)
}

func (e *Ineligible) Unwrap() error { return ErrIneligible }

const (
	ReasonDisabled  = "disabled"
	ReasonNoWindow  = "no window inside horizon"
	ReasonTooShort  = "minimum duration or burst does not fit the window"
	ReasonExhausted = "run budget for today exhausted"
)

// Params configures request construction.
type Params struct {
	Slot             time.Duration
	HorizonLength    time.Duration
	ExtendToEndOfDay bool
	// UpdateInterval is the length of the boxes describing loads that are
	// already running.
	UpdateInterval time.Duration
	Location       *time.Location
	System         solver.System
}

// Inputs is the state captured at the start of one fetch.
type Inputs struct {
	Now     time.Time
	Jobs    []model.Job
	Tariffs []tariff.Tariff
	// SoCKWh is the current battery charge; it replaces System.StateOfCharge
	// when HasSoC is set.
	SoCKWh float64
	HasSoC bool
	// Running reports whether a job's device is on right now. May be nil.
	Running func(jobID string) bool
	// Previous is the schedule in force before this fetch, used for the
	// run budget. May be nil.
	Previous *model.Schedule
}

// Plan is the outcome of Build.
type Plan struct {
	Request    solver.Request
	Ineligible []*Ineligible
	// Injected lists jobs sent as already-running loads.
	Injected []string
	// Preserved holds the runs in progress that the request leaves out.
	// They are merged back into the solver's answer with Preserve.
	Preserved map[string]Run
}

// Builder assembles solver requests.
type Builder struct {
	p      Params
	ledger *Ledger
	log    logger.Logger
}

// NewBuilder returns a builder. The ledger is owned by the builder.
func NewBuilder(p Params, log logger.Logger) *Builder {
	if p.Location == nil {
		p.Location = time.Local
	}
	return &Builder{p: p, ledger: NewLedger(p.Location), log: logger.OrNop(log)}
}

// Ledger exposes the run-time ledger.
func (b *Builder) Ledger() *Ledger { return b.ledger }

// Build creates the solver request for in.Now.
func (b *Builder) Build(in Inputs) Plan {
	loc := b.p.Location
	b.ledger.Observe(in.Previous, in.Now)
	today := b.ledger.Day()

	h := Horizon(in.Now, b.p.Slot, b.p.HorizonLength, b.p.ExtendToEndOfDay, loc)
	sys := b.p.System
	if in.HasSoC {
		sys.StateOfCharge = in.SoCKWh
	}

	var plan Plan
	var boxes []solver.Box
	active := ActiveRuns(in.Previous, in.Now)
	submitted := make(map[string]bool)
	for _, j := range in.Jobs {
		if model.IsSynthetic(j.Entity) {
			continue
		}
		var run Run
		if j.Enabled {
			run = active[j.ID()]
		}
		jb, why := b.jobBoxes(j, h, today, run)
		if why != "" {
			inel := &Ineligible{JobID: j.ID(), Reason: why}
			if why == ReasonDisabled {
				b.log.Debugf("%v", inel)
			} else {
				b.log.Warnf("%v", inel)
			}
			plan.Ineligible = append(plan.Ineligible, inel)
			continue
		}
		if len(run) > 0 {
			if plan.Preserved == nil {
				plan.Preserved = make(map[string]Run)
			}
			plan.Preserved[j.ID()] = run
		}
		if len(jb) > 0 {
			boxes = append(boxes, jb...)
			submitted[j.ID()] = true
		}
	}

	for _, j := range in.Jobs {
		if submitted[j.ID()] || model.IsSynthetic(j.Entity) || in.Running == nil {
			continue
		}
		if j.ACPower == 0 && j.DCPower == 0 {
			continue
		}
		if !in.Running(j.ID()) {
			continue
		}
		boxes = append(boxes, b.activeBox(j, h))
		plan.Injected = append(plan.Injected, j.ID())
		b.log.Debugw("injecting active load", map[string]any{"job": j.ID(), "ac_power": j.ACPower, "dc_power": j.DCPower})
	}

	plan.Request = solver.Request{
		System:  sys,
		Tariff:  solver.Tariff{Periods: tariff.Expand(in.Tariffs, h, loc)},
		Boxes:   boxes,
		Horizon: solver.Horizon{Start: h.Start, End: h.End, SlotDuration: model.Duration(b.p.Slot)},
	}
	if plan.Request.Boxes == nil {
		plan.Request.Boxes = []solver.Box{}
	}
	if plan.Request.Tariff.Periods == nil {
		plan.Request.Tariff.Periods = []tariff.Period{}
	}
	return plan
}

// jobBoxes expands j over h. A non-empty reason means the job is ineligible.
// The occurrence holding run starts after it, and the run's length is
// deducted from that occurrence's budget.
func (b *Builder) jobBoxes(j model.Job, h model.Window, today time.Time, run Run) ([]solver.Box, string) {
	if !j.Enabled {
		return nil, ReasonDisabled
	}
	occs := j.Occurrences(h, b.p.Location)
	if len(occs) == 0 {
		return nil, ReasonNoWindow
	}
	var out []solver.Box
	tooShort, exhausted, covered := false, false, false
	rw := run.Window()
	for _, occ := range occs {
		w := occ.Intersect(h)
		if w.Empty() {
			continue
		}
		span := w.Duration()
		var kept time.Duration
		if len(run) > 0 && w.Overlaps(rw) {
			kept = rw.Duration()
			if w.Start.Before(rw.End) {
				w.Start = rw.End
			}
			if w.Empty() {
				covered = true
				continue
			}
		}
		box := solver.Box{
			Entity:          j.ID(),
			StartTime:       w.Start,
			FinishTime:      w.End,
			MaximumDuration: model.Duration(j.MaximumDuration),
			MinimumDuration: model.Duration(j.MinimumDuration),
			MinimumBurst:    model.Duration(j.MinimumBurst),
			ACPower:         j.ACPower,
			DCPower:         j.DCPower,
			Force:           j.Force,
			Benefit:         j.Benefit,
		}
		if j.Force {
			if kept > 0 {
				budget := j.MaximumDuration - kept
				if budget <= 0 {
					covered = true
					continue
				}
				box.MaximumDuration = model.Duration(budget)
				box.MinimumDuration = model.Duration(min(max(j.MinimumDuration-kept, 0), budget))
				box.MinimumBurst = model.Duration(min(j.MinimumBurst, budget))
			}
			out = append(out, box)
			continue
		}
		if j.MinimumDuration > span || j.MinimumBurst > span {
			tooShort = true
			continue
		}
		budget := j.MaximumDuration - kept
		if dateOf(w.Start, b.p.Location).Equal(today) {
			budget -= b.ledger.Elapsed(j.ID())
		}
		if budget <= 0 {
			if kept > 0 {
				covered = true
			} else {
				exhausted = true
			}
			continue
		}
		budget = min(budget, w.Duration())
		box.MaximumDuration = model.Duration(budget)
		box.MinimumDuration = model.Duration(min(max(j.MinimumDuration-kept, 0), budget))
		box.MinimumBurst = model.Duration(min(j.MinimumBurst, budget))
		out = append(out, box)
	}
	if len(out) == 0 {
		switch {
		case covered:
			return nil, ""
		case exhausted:
			return nil, ReasonExhausted
		case tooShort:
			return nil, ReasonTooShort
		default:
			return nil, ReasonNoWindow
		}
	}
	return out, ""
}

func (b *Builder) activeBox(j model.Job, h model.Window) solver.Box {
	d := b.p.UpdateInterval
	if d <= 0 {
		d = b.p.Slot
	}
	end := h.Start.Add(d)
	if end.After(h.End) {
		end = h.End
	}
	d = end.Sub(h.Start)
	return solver.Box{
		Entity:          ActiveEntity(j.ID()),
		StartTime:       h.Start,
		FinishTime:      end,
		MaximumDuration: model.Duration(d),
		MinimumDuration: model.Duration(d),
		MinimumBurst:    model.Duration(d),
		ACPower:         j.ACPower,
		DCPower:         j.DCPower,
		Force:           true,
	}
}

// ActiveEntity names the synthetic box describing a running load.
func ActiveEntity(jobID string) string { return "__active_" + jobID + "__" }
