package solver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/erg/core/model"
)

// Slot is one scheduled slot of an assignment. Older solvers send bare
// timestamps; their per-slot cost and benefit are derived from the
// assignment totals.
type Slot struct {
	Start         time.Time `json:"start"`
	EnergyCost    float64   `json:"energy_cost"`
	EnergyBenefit float64   `json:"energy_benefit"`

	bare bool
}

// UnmarshalJSON accepts either a slot object or an RFC 3339 timestamp.
func (s *Slot) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var ts time.Time
		if err := json.Unmarshal(b, &ts); err != nil {
			return err
		}
		*s = Slot{Start: ts, bare: true}
		return nil
	}
	type plain Slot
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Slot(p)
	return nil
}

// AssignmentResult is the solver's allocation for one box.
type AssignmentResult struct {
	Entity         string  `json:"entity"`
	Slots          []Slot  `json:"slots"`
	RunTimeSeconds float64 `json:"run_time_seconds"`
	EnergyCost     float64 `json:"energy_cost"`
	EnergyBenefit  float64 `json:"energy_benefit"`
}

// Response is the solver's answer document.
type Response struct {
	Assignments    []AssignmentResult `json:"assignments"`
	TotalCost      float64            `json:"total_cost"`
	TotalBenefit   float64            `json:"total_benefit"`
	ExportRevenue  float64            `json:"export_revenue"`
	NetValue       float64            `json:"net_value"`
	BatteryProfile []model.SoCSample  `json:"battery_profile"`
}

// Schedule validates the response against the horizon it answers and
// converts it. Every slot must be aligned on the horizon slot grid, lie
// inside the horizon and appear once per entity; SoC samples must be
// strictly ordered. Any violation rejects the whole response with
// ErrInvalidResponse. Synthetic entities are dropped.
func (r Response) Schedule(h Horizon, fetchedAt time.Time) (*model.Schedule, error) {
	slot := h.SlotDuration.Std()
	if slot <= 0 {
		return nil, invalidf("non-positive slot duration %s", slot)
	}
	if !h.End.After(h.Start) {
		return nil, invalidf("empty horizon")
	}

	byEntity := make(map[string]int)
	var out []model.Assignment
	seen := make(map[string]map[int64]bool)
	for _, a := range r.Assignments {
		if a.Entity == "" {
			return nil, invalidf("assignment without entity")
		}
		if model.IsSynthetic(a.Entity) {
			continue
		}
		idx, ok := byEntity[a.Entity]
		if !ok {
			idx = len(out)
			byEntity[a.Entity] = idx
			out = append(out, model.Assignment{JobID: a.Entity})
			seen[a.Entity] = make(map[int64]bool)
		}
		var bareCost, bareBenefit float64
		if n := len(a.Slots); n > 0 {
			bareCost = a.EnergyCost / float64(n)
			bareBenefit = a.EnergyBenefit / float64(n)
		}
		for _, s := range a.Slots {
			start := s.Start
			if start.Before(h.Start) || start.Add(slot).After(h.End) {
				return nil, invalidf("%s: slot %s outside horizon", a.Entity, start.Format(time.RFC3339))
			}
			off := start.Sub(h.Start)
			if off%slot != 0 {
				return nil, invalidf("%s: slot %s not aligned to %s", a.Entity, start.Format(time.RFC3339), slot)
			}
			key := int64(off / slot)
			if seen[a.Entity][key] {
				return nil, invalidf("%s: duplicate slot %s", a.Entity, start.Format(time.RFC3339))
			}
			seen[a.Entity][key] = true
			iv := model.RunInterval{Start: start, End: start.Add(slot), Cost: s.EnergyCost, Benefit: s.EnergyBenefit}
			if s.bare {
				iv.Cost, iv.Benefit = bareCost, bareBenefit
			}
			out[idx].Intervals = append(out[idx].Intervals, iv)
		}
	}
	for i := range out {
		ivs := out[i].Intervals
		sort.Slice(ivs, func(a, b int) bool { return ivs[a].Start.Before(ivs[b].Start) })
	}

	profile := make([]model.SoCSample, len(r.BatteryProfile))
	copy(profile, r.BatteryProfile)
	for i := 1; i < len(profile); i++ {
		if !profile[i].Time.After(profile[i-1].Time) {
			return nil, invalidf("battery profile not ordered at %d", i)
		}
	}

	return &model.Schedule{
		HorizonStart:   h.Start,
		HorizonEnd:     h.End,
		SlotDuration:   slot,
		Assignments:    out,
		TotalCost:      r.TotalCost,
		TotalBenefit:   r.TotalBenefit,
		ExportRevenue:  r.ExportRevenue,
		BatteryProfile: profile,
		FetchedAt:      fetchedAt,
	}, nil
}

// DecodeResponse decodes and validates a solver answer.
func DecodeResponse(body []byte, h Horizon, fetchedAt time.Time) (*model.Schedule, error) {
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}
	return r.Schedule(h, fetchedAt)
}
