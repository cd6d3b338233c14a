package scheduler

import (
	"time"

	"github.com/kilianp07/erg/core/model"
)

// Horizon returns the planning window for now. It starts on the slot
// containing now, counted from local midnight, and spans length rounded up
// to whole slots. With toEndOfDay the end moves to the following local
// midnight.
func Horizon(now time.Time, slot, length time.Duration, toEndOfDay bool, loc *time.Location) model.Window {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	start := midnight.Add(local.Sub(midnight) / slot * slot)

	n := (length + slot - 1) / slot
	if n < 1 {
		n = 1
	}
	end := start.Add(n * slot)
	if toEndOfDay {
		e := end.In(loc)
		eod := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc)
		if eod.Before(end) {
			end = eod.AddDate(0, 0, 1)
		}
	}
	return model.Window{Start: start, End: end}
}

// ResolveSoC converts a battery reading to kWh. Percentages are scaled by
// the battery capacity; any other unit is taken as kWh.
func ResolveSoC(value float64, unit string, capacity float64) float64 {
	if unit == "%" {
		return value * capacity / 100
	}
	return value
}
