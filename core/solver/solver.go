// Package solver defines the contract with the remote schedule optimizer:
// the request and response documents, the error taxonomy and the Client
// interface implemented by the transport adapters.
package solver

import (
	"context"
	"time"

	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/tariff"
)

// Client obtains schedules from the optimizer.
type Client interface {
	Fetch(ctx context.Context, req Request) (*model.Schedule, error)
	Health(ctx context.Context) error
}

// System describes the site constraints. Powers are kW, energies kWh.
type System struct {
	GridImportLimit     float64 `json:"grid_import_limit" validate:"gte=0"`
	GridExportLimit     float64 `json:"grid_export_limit" validate:"gte=0"`
	InverterPower       float64 `json:"inverter_power" validate:"gte=0"`
	BatteryCapacity     float64 `json:"battery_capacity" validate:"gte=0"`
	StateOfCharge       float64 `json:"state_of_charge" validate:"gte=0"`
	BatteryStorageValue float64 `json:"battery_storage_value_per_kilowatt_hour"`
	BatteryPreservation float64 `json:"battery_preservation"`
}

// Box is one schedulable unit of work: the solver may run Entity for up to
// MaximumDuration inside [StartTime, FinishTime).
type Box struct {
	Entity          string         `json:"entity"`
	StartTime       time.Time      `json:"start_time"`
	FinishTime      time.Time      `json:"finish_time"`
	MaximumDuration model.Duration `json:"maximum_duration"`
	MinimumDuration model.Duration `json:"minimum_duration"`
	MinimumBurst    model.Duration `json:"minimum_burst"`
	ACPower         float64        `json:"ac_power"`
	DCPower         float64        `json:"dc_power"`
	Force           bool           `json:"force"`
	Benefit         float64        `json:"benefit"`
}

// Tariff is the price schedule over the horizon.
type Tariff struct {
	Periods []tariff.Period `json:"periods"`
}

// Horizon is the planning interval and its slot size.
type Horizon struct {
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	SlotDuration model.Duration `json:"slot_duration"`
}

// Window returns the horizon as an absolute window.
func (h Horizon) Window() model.Window { return model.Window{Start: h.Start, End: h.End} }

// Request is the document posted to the solver.
type Request struct {
	System  System  `json:"system"`
	Tariff  Tariff  `json:"tariff"`
	Boxes   []Box   `json:"boxes"`
	Horizon Horizon `json:"horizon"`
}

// Entities returns the entities of the boxes, in order, without repeats.
func (r Request) Entities() []string {
	seen := make(map[string]bool, len(r.Boxes))
	var out []string
	for _, b := range r.Boxes {
		if !seen[b.Entity] {
			seen[b.Entity] = true
			out = append(out, b.Entity)
		}
	}
	return out
}
