package model

import (
	"strings"
	"time"
)

// RunInterval is a scheduled "on" period of a job. Intervals produced by
// the solver are one slot long and carry that slot's cost and benefit.
type RunInterval struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Cost    float64   `json:"energy_cost"`
	Benefit float64   `json:"energy_benefit"`
}

// Contains reports whether t falls inside the interval.
func (r RunInterval) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Duration returns the interval length.
func (r RunInterval) Duration() time.Duration { return r.End.Sub(r.Start) }

// Assignment lists the run intervals granted to one job, ascending and
// disjoint.
type Assignment struct {
	JobID     string        `json:"entity"`
	Intervals []RunInterval `json:"intervals"`
}

// SoCSample is one point of the battery state-of-charge forecast. The grid
// flows are the forecast import and export in kW for the slot starting at
// Time.
type SoCSample struct {
	Time       time.Time `json:"time"`
	SoCKWh     float64   `json:"soc_kwh"`
	GridImport float64   `json:"grid_import"`
	GridExport float64   `json:"grid_export"`
}

// Schedule is the solver's answer for one horizon. A Schedule is never
// modified after construction; readers may share it freely.
type Schedule struct {
	HorizonStart   time.Time     `json:"horizon_start"`
	HorizonEnd     time.Time     `json:"horizon_end"`
	SlotDuration   time.Duration `json:"slot_duration"`
	Assignments    []Assignment  `json:"assignments"`
	TotalCost      float64       `json:"total_cost"`
	TotalBenefit   float64       `json:"total_benefit"`
	ExportRevenue  float64       `json:"export_revenue"`
	BatteryProfile []SoCSample   `json:"battery_profile"`
	FetchedAt      time.Time     `json:"fetched_at"`
}

// Horizon returns the schedule horizon as a window.
func (s *Schedule) Horizon() Window { return Window{Start: s.HorizonStart, End: s.HorizonEnd} }

// Assignment returns the intervals of the given job and whether the solver
// scheduled it at all.
func (s *Schedule) Assignment(jobID string) (Assignment, bool) {
	if s == nil {
		return Assignment{}, false
	}
	for _, a := range s.Assignments {
		if a.JobID == jobID {
			return a, true
		}
	}
	return Assignment{}, false
}

// ActiveAt reports whether jobID has a run interval containing t.
func (s *Schedule) ActiveAt(jobID string, t time.Time) bool {
	a, ok := s.Assignment(jobID)
	if !ok {
		return false
	}
	for _, iv := range a.Intervals {
		if iv.Contains(t) {
			return true
		}
		if iv.Start.After(t) {
			break
		}
	}
	return false
}

// IsSynthetic reports whether an entity name was generated locally for the
// solver request rather than registered by a user.
func IsSynthetic(entity string) bool { return strings.HasPrefix(entity, "__") }
