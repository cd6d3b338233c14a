package metrics

import "time"

// Sink records the schedule projections. Sinks may additionally implement
// any of the optional recorder interfaces below.
type Sink interface {
	RecordSummary(ev SummaryEvent) error
}

// SummaryEvent is the global projection of the schedule in force.
type SummaryEvent struct {
	NetValue      float64
	TotalCost     float64
	TotalBenefit  float64
	ExportRevenue float64
	// SoCEndKWh is the last battery forecast value, valid when HasSoC.
	SoCEndKWh float64
	HasSoC    bool
	// ScheduleAge is the time since the last successful fetch, valid when
	// HasSchedule.
	ScheduleAge time.Duration
	HasSchedule bool
	Stale       bool
	Jobs        int
	// ForceCharge and ForceDischarge report whether the slot in progress
	// charges the battery from the grid or discharges it to the grid.
	ForceCharge    bool
	ForceDischarge bool
	Time           time.Time
}

// JobEvent is the projection of one job.
type JobEvent struct {
	JobID        string
	ScheduledNow bool
	RunTime      time.Duration
	Cost         float64
	Benefit      float64
	Time         time.Time
}

// JobRecorder records per-job projections.
type JobRecorder interface {
	RecordJob(ev JobEvent) error
}

// JobRemover forgets the series of a deleted job.
type JobRemover interface {
	RemoveJob(jobID string) error
}

// Actuation outcomes.
const (
	ActuationOK     = "ok"
	ActuationFailed = "failed"
	ActuationHeld   = "held"
)

// ActuationEvent describes a command sent to a device, or a command the
// continuity rule withheld.
type ActuationEvent struct {
	JobID   string
	On      bool
	Outcome string
	Latency time.Duration
	Time    time.Time
}

// ActuationRecorder records device commands.
type ActuationRecorder interface {
	RecordActuation(ev ActuationEvent) error
}

// Fetch outcomes. Failures use the error class names of the solver.
const (
	FetchSuccess        = "success"
	FetchUnreachable    = "unreachable"
	FetchInvalid        = "invalid_response"
	FetchRateLimited    = "rate_limited"
	FetchUnauthorized   = "unauthorized"
	FetchSkippedBackoff = "skipped_backoff"
	FetchStale          = "stale"
)

// FetchEvent describes one schedule fetch cycle.
type FetchEvent struct {
	Outcome    string
	Duration   time.Duration
	Boxes      int
	Ineligible int
	Time       time.Time
}

// FetchRecorder records fetch cycles.
type FetchRecorder interface {
	RecordFetch(ev FetchEvent) error
}

// NopSink implements Sink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSummary(SummaryEvent) error     { return nil }
func (NopSink) RecordJob(JobEvent) error             { return nil }
func (NopSink) RemoveJob(string) error               { return nil }
func (NopSink) RecordActuation(ActuationEvent) error { return nil }
func (NopSink) RecordFetch(FetchEvent) error         { return nil }
