// Package summary derives the financial and per-job projections of the
// schedule in force. Nothing is accumulated: every call recomputes from the
// schedule.
package summary

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/erg/core/model"
)

// JobProjection is the outlook of one registered job.
type JobProjection struct {
	JobID        string        `json:"entity_id"`
	Scheduled    bool          `json:"scheduled"`
	ScheduledNow bool          `json:"scheduled_now"`
	NextStart    *time.Time    `json:"next_start,omitempty"`
	RunTime      time.Duration `json:"-"`
	RunTimeHours float64       `json:"run_time_hours"`
	Cost         float64       `json:"energy_cost"`
	Benefit      float64       `json:"energy_benefit"`
}

// GridOutlook is the forecast grid exchange: the slot in progress and the
// energy over the horizon.
type GridOutlook struct {
	ImportKW        float64 `json:"import_kw"`
	ExportKW        float64 `json:"export_kw"`
	ScheduledLoadKW float64 `json:"scheduled_load_kw"`
	ImportKWh       float64 `json:"horizon_import_kwh"`
	ExportKWh       float64 `json:"horizon_export_kwh"`
	PeakImportKW    float64 `json:"peak_import_kw"`
}

// Summary is the global view of the schedule.
type Summary struct {
	Generation     uint64            `json:"generation"`
	HorizonStart   *time.Time        `json:"horizon_start,omitempty"`
	HorizonEnd     *time.Time        `json:"horizon_end,omitempty"`
	TotalCost      float64           `json:"total_cost"`
	TotalBenefit   float64           `json:"total_benefit"`
	ExportRevenue  float64           `json:"export_revenue"`
	NetValue       float64           `json:"net_value"`
	NextJob        string            `json:"next_job,omitempty"`
	NextJobStart   *time.Time        `json:"next_job_start,omitempty"`
	LastSuccess    *time.Time        `json:"last_success,omitempty"`
	ScheduleAge    *time.Duration    `json:"-"`
	AgeSeconds     *float64          `json:"schedule_age_seconds,omitempty"`
	Stale          bool              `json:"stale"`
	BatteryProfile []model.SoCSample `json:"battery_profile"`
	SoCEndKWh      *float64          `json:"battery_soc_end_kwh,omitempty"`
	Grid           *GridOutlook      `json:"grid,omitempty"`
	ForceCharge    bool              `json:"force_charge"`
	ForceDischarge bool              `json:"force_discharge"`
	Jobs           []JobProjection   `json:"jobs"`
}

// Input is what Compute works from. Jobs are in creation order, which
// breaks next_job ties.
type Input struct {
	Schedule   *model.Schedule
	Generation uint64
	Jobs       []model.Job
	Now        time.Time
	StaleAfter time.Duration
}

// NetValue is benefit plus export revenue minus cost.
func NetValue(s *model.Schedule) float64 {
	if s == nil {
		return 0
	}
	return s.TotalBenefit + s.ExportRevenue - s.TotalCost
}

// Compute builds the summary.
func Compute(in Input) Summary {
	out := Summary{Generation: in.Generation, BatteryProfile: []model.SoCSample{}, Jobs: []JobProjection{}}
	for _, j := range in.Jobs {
		out.Jobs = append(out.Jobs, Project(in.Schedule, j.ID(), in.Now))
	}
	s := in.Schedule
	if s == nil {
		return out
	}

	hs, he := s.HorizonStart, s.HorizonEnd
	out.HorizonStart, out.HorizonEnd = &hs, &he
	out.TotalCost = s.TotalCost
	out.TotalBenefit = s.TotalBenefit
	out.ExportRevenue = s.ExportRevenue
	out.NetValue = NetValue(s)

	fetched := s.FetchedAt
	age := in.Now.Sub(fetched)
	secs := age.Seconds()
	out.LastSuccess, out.ScheduleAge, out.AgeSeconds = &fetched, &age, &secs
	out.Stale = in.StaleAfter > 0 && age > in.StaleAfter

	if n := len(s.BatteryProfile); n > 0 {
		out.BatteryProfile = append(out.BatteryProfile, s.BatteryProfile...)
		end := s.BatteryProfile[n-1].SoCKWh
		out.SoCEndKWh = &end
	}
	if g, current, ok := Grid(s, in.Jobs, in.Now); ok {
		out.Grid = &g
		out.ForceCharge, out.ForceDischarge = forced(g, current, s, in.Jobs, in.Now)
	}

	if id, at, ok := NextJob(s, in.Jobs, in.Now); ok {
		out.NextJob, out.NextJobStart = id, &at
	}
	return out
}

// NextJob returns the job with the earliest run interval starting at or
// after now. Equal starts go to the job created first; jobs that are not
// registered are ignored.
func NextJob(s *model.Schedule, jobs []model.Job, now time.Time) (string, time.Time, bool) {
	if s == nil {
		return "", time.Time{}, false
	}
	rank := make(map[string]int, len(jobs))
	for i, j := range jobs {
		rank[j.ID()] = i
	}
	bestID, bestRank := "", math.MaxInt
	var best time.Time
	for _, a := range s.Assignments {
		r, ok := rank[a.JobID]
		if !ok {
			continue
		}
		at, ok := nextStart(a, now)
		if !ok {
			continue
		}
		if bestID == "" || at.Before(best) || (at.Equal(best) && r < bestRank) {
			bestID, bestRank, best = a.JobID, r, at
		}
	}
	return bestID, best, bestID != ""
}

func nextStart(a model.Assignment, now time.Time) (time.Time, bool) {
	for _, iv := range a.Intervals {
		if !iv.Start.Before(now) {
			return iv.Start, true
		}
	}
	return time.Time{}, false
}

// Project computes the outlook of one job.
func Project(s *model.Schedule, jobID string, now time.Time) JobProjection {
	p := JobProjection{JobID: jobID}
	a, ok := s.Assignment(jobID)
	if !ok {
		return p
	}
	p.Scheduled = true
	p.ScheduledNow = s.ActiveAt(jobID, now)
	if at, ok := nextStart(a, now); ok {
		p.NextStart = &at
	}
	costs := make([]float64, 0, len(a.Intervals))
	benefits := make([]float64, 0, len(a.Intervals))
	for _, iv := range a.Intervals {
		p.RunTime += iv.Duration()
		costs = append(costs, iv.Cost)
		benefits = append(benefits, iv.Benefit)
	}
	p.RunTimeHours = p.RunTime.Hours()
	p.Cost = floats.Sum(costs)
	p.Benefit = floats.Sum(benefits)
	return p
}

// Grid derives the grid outlook from the battery profile. current reports
// whether a sample covers now; ok is false without a profile. Each sample
// spans one slot, or the gap to the next sample when the slot is unknown.
func Grid(s *model.Schedule, jobs []model.Job, now time.Time) (g GridOutlook, current, ok bool) {
	if s == nil || len(s.BatteryProfile) == 0 {
		return GridOutlook{}, false, false
	}
	prof := s.BatteryProfile
	imports := make([]float64, len(prof))
	exports := make([]float64, len(prof))
	hours := make([]float64, len(prof))
	for i, smp := range prof {
		span := s.SlotDuration
		if span <= 0 {
			switch {
			case i+1 < len(prof):
				span = prof[i+1].Time.Sub(smp.Time)
			case i > 0:
				span = smp.Time.Sub(prof[i-1].Time)
			}
		}
		imports[i], exports[i], hours[i] = smp.GridImport, smp.GridExport, span.Hours()
		if !current && !now.Before(smp.Time) && now.Before(smp.Time.Add(span)) {
			g.ImportKW, g.ExportKW, current = smp.GridImport, smp.GridExport, true
		}
	}
	g.ImportKWh = floats.Dot(imports, hours)
	g.ExportKWh = floats.Dot(exports, hours)
	g.PeakImportKW = floats.Max(imports)
	g.ScheduledLoadKW = floats.Sum(running(s, jobs, now, func(j model.Job) float64 { return j.ACPower }))
	return g, current, true
}

// forced compares the grid flows of the slot in progress with what the
// scheduled jobs explain. Importing more than the running AC load means the
// battery charges from the grid; exporting more than the running DC
// generation means it discharges to the grid.
func forced(g GridOutlook, current bool, s *model.Schedule, jobs []model.Job, now time.Time) (charge, discharge bool) {
	if !current {
		return false, false
	}
	generation := floats.Sum(running(s, jobs, now, func(j model.Job) float64 { return math.Max(-j.DCPower, 0) }))
	return g.ImportKW-g.ScheduledLoadKW > 0, g.ExportKW-generation > 0
}

func running(s *model.Schedule, jobs []model.Job, now time.Time, value func(model.Job) float64) []float64 {
	out := make([]float64, 0, len(jobs))
	for _, j := range jobs {
		if j.Enabled && s.ActiveAt(j.ID(), now) {
			out = append(out, value(j))
		}
	}
	return out
}
