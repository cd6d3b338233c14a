package scheduler

import (
	"sort"
	"time"

	"github.com/kilianp07/erg/core/model"
)

// Run is a contiguous block of slots a job keeps across a re-solve.
type Run []model.RunInterval

// Window returns the span of the run.
func (r Run) Window() model.Window {
	if len(r) == 0 {
		return model.Window{}
	}
	return model.Window{Start: r[0].Start, End: r[len(r)-1].End}
}

// ActiveRuns returns, per job, the run of prev in progress at now: the
// interval containing now and every following interval that starts where
// the previous one ended.
func ActiveRuns(prev *model.Schedule, now time.Time) map[string]Run {
	if prev == nil {
		return nil
	}
	var out map[string]Run
	for _, a := range prev.Assignments {
		if model.IsSynthetic(a.JobID) {
			continue
		}
		for i, iv := range a.Intervals {
			if !iv.Contains(now) {
				continue
			}
			run := Run{iv}
			for _, next := range a.Intervals[i+1:] {
				if !next.Start.Equal(run[len(run)-1].End) {
					break
				}
				run = append(run, next)
			}
			if out == nil {
				out = make(map[string]Run)
			}
			out[a.JobID] = run
			break
		}
	}
	return out
}

// Preserve returns a copy of s with the given runs merged into the
// assignments. Solver intervals overlapping a run are dropped, and run
// intervals starting at or after the horizon end are cut. s itself is
// left untouched.
func Preserve(s *model.Schedule, runs map[string]Run) *model.Schedule {
	if s == nil || len(runs) == 0 {
		return s
	}
	out := *s
	out.Assignments = make([]model.Assignment, 0, len(s.Assignments)+len(runs))
	merged := make(map[string]bool, len(runs))
	for _, a := range s.Assignments {
		if run, ok := runs[a.JobID]; ok && !merged[a.JobID] {
			a = model.Assignment{JobID: a.JobID, Intervals: mergeRun(run, a.Intervals, s.HorizonEnd)}
			merged[a.JobID] = true
		}
		out.Assignments = append(out.Assignments, a)
	}

	missing := make([]string, 0, len(runs))
	for id := range runs {
		if !merged[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		ivs := mergeRun(runs[id], nil, s.HorizonEnd)
		if len(ivs) > 0 {
			out.Assignments = append(out.Assignments, model.Assignment{JobID: id, Intervals: ivs})
		}
	}
	return &out
}

func mergeRun(run Run, ivs []model.RunInterval, end time.Time) []model.RunInterval {
	out := make([]model.RunInterval, 0, len(run)+len(ivs))
	for _, iv := range run {
		if iv.Start.Before(end) {
			out = append(out, iv)
		}
	}
	if len(out) == 0 {
		return append(out, ivs...)
	}
	w := Run(out).Window()
	for _, iv := range ivs {
		if !w.Overlaps(model.Window{Start: iv.Start, End: iv.End}) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Start.Before(out[k].Start) })
	return out
}
