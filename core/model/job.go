package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSpec is returned when job parameters are rejected.
var ErrInvalidSpec = errors.New("invalid job spec")

// Kind distinguishes recurring jobs from one-shot jobs.
type Kind string

const (
	KindRecurring Kind = "recurring"
	KindOneshot   Kind = "oneshot"
)

// DefaultMaximumDuration is applied when a job is created without one.
const DefaultMaximumDuration = time.Hour

// DefaultWindow is the time window given to recurring jobs created without one.
var DefaultWindow = DailyWindow{Start: ClockTime{Hour: 9}, End: ClockTime{Hour: 17}}

// Duration is a time.Duration encoded as a Go duration string ("1h30m").
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Job describes one controllable load and its scheduling constraints. The
// Entity doubles as the job identifier.
type Job struct {
	Entity  string
	Kind    Kind
	ACPower float64 // kW, negative for generation
	DCPower float64 // kW
	Benefit float64 // value of running the full requested duration
	Force   bool
	Enabled bool

	MaximumDuration time.Duration
	MinimumDuration time.Duration
	MinimumBurst    time.Duration

	// Recurring jobs.
	Recurrence Recurrence
	Window     DailyWindow

	// One-shot jobs.
	Span Window
}

// ID returns the job identifier.
func (j Job) ID() string { return j.Entity }

// Clone returns a deep copy.
func (j Job) Clone() Job {
	j.Recurrence = j.Recurrence.clone()
	return j
}

// Validate checks the job invariants.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Entity) == "" {
		return invalid("entity_id is required")
	}
	if IsSynthetic(j.Entity) {
		return invalid("entity_id %q uses the reserved \"__\" prefix", j.Entity)
	}
	if j.MaximumDuration <= 0 {
		return invalid("maximum_duration must be positive")
	}
	if j.MinimumDuration < 0 || j.MinimumBurst < 0 {
		return invalid("durations must not be negative")
	}
	if j.MinimumDuration > j.MaximumDuration {
		return invalid("minimum_duration %s exceeds maximum_duration %s", j.MinimumDuration, j.MaximumDuration)
	}
	if j.MinimumDuration > 0 && j.MinimumBurst > j.MinimumDuration {
		return invalid("minimum_burst %s exceeds minimum_duration %s", j.MinimumBurst, j.MinimumDuration)
	}
	if j.MinimumBurst > j.MaximumDuration {
		return invalid("minimum_burst %s exceeds maximum_duration %s", j.MinimumBurst, j.MaximumDuration)
	}
	switch j.Kind {
	case KindRecurring:
		if err := j.Recurrence.Validate(); err != nil {
			return invalid("%v", err)
		}
		if !j.Window.Start.Valid() || !j.Window.End.Valid() {
			return invalid("time window out of range")
		}
	case KindOneshot:
		if j.Span.Start.IsZero() || j.Span.End.IsZero() {
			return invalid("start and finish are required for oneshot jobs")
		}
		if !j.Span.End.After(j.Span.Start) {
			return invalid("finish must be after start")
		}
	case "":
		return invalid("job_type is required")
	default:
		return invalid("unknown job_type %q", j.Kind)
	}
	return nil
}

// Occurrences returns the windows in which the job may run that overlap q,
// ordered by start.
func (j Job) Occurrences(q Window, loc *time.Location) []Window {
	switch j.Kind {
	case KindRecurring:
		return j.Window.Occurrences(q, loc, j.Recurrence.Matches)
	case KindOneshot:
		if j.Span.Overlaps(q) {
			return []Window{j.Span}
		}
	}
	return nil
}

// JobPatch carries optional job fields. It is used both to create a job,
// where omitted fields receive defaults, and to update one, where omitted
// fields are left unchanged.
type JobPatch struct {
	Entity  *string  `json:"entity_id,omitempty"`
	Kind    *Kind    `json:"job_type,omitempty"`
	ACPower *float64 `json:"ac_power,omitempty"`
	DCPower *float64 `json:"dc_power,omitempty"`
	Benefit *float64 `json:"benefit,omitempty"`
	Force   *bool    `json:"force,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`

	MaximumDuration *Duration `json:"maximum_duration,omitempty"`
	MinimumDuration *Duration `json:"minimum_duration,omitempty"`
	MinimumBurst    *Duration `json:"minimum_burst,omitempty"`

	Frequency       *Frequency `json:"frequency,omitempty"`
	DayOfWeek       *int       `json:"day_of_week,omitempty"`
	DaysOfWeek      *[]int     `json:"days_of_week,omitempty"`
	TimeWindowStart *ClockTime `json:"time_window_start,omitempty"`
	TimeWindowEnd   *ClockTime `json:"time_window_end,omitempty"`

	Start  *time.Time `json:"start,omitempty"`
	Finish *time.Time `json:"finish,omitempty"`
}

func (p JobPatch) hasRecurringFields() bool {
	return p.Frequency != nil || p.DayOfWeek != nil || p.DaysOfWeek != nil ||
		p.TimeWindowStart != nil || p.TimeWindowEnd != nil
}

func (p JobPatch) hasOneshotFields() bool { return p.Start != nil || p.Finish != nil }

// NewJob builds a job from p, applying defaults for omitted fields.
func NewJob(p JobPatch) (Job, error) {
	if p.Entity == nil || strings.TrimSpace(*p.Entity) == "" {
		return Job{}, invalid("entity_id is required")
	}
	if p.Kind == nil {
		return Job{}, invalid("job_type is required")
	}
	j := Job{
		Entity:          strings.TrimSpace(*p.Entity),
		Kind:            *p.Kind,
		Enabled:         true,
		MaximumDuration: DefaultMaximumDuration,
	}
	if j.Kind == KindRecurring {
		j.Recurrence = Recurrence{Frequency: FrequencyDaily}
		j.Window = DefaultWindow
	}
	p.Entity, p.Kind = nil, nil
	return j.Apply(p)
}

// Apply returns a copy of j with the fields set in p replaced. The merged
// job is validated as a whole; on error j is returned unchanged.
func (j Job) Apply(p JobPatch) (Job, error) {
	if p.Entity != nil && *p.Entity != j.Entity {
		return j, invalid("entity_id cannot be changed")
	}
	if p.Kind != nil && *p.Kind != j.Kind {
		return j, invalid("job_type cannot be changed")
	}
	if j.Kind == KindOneshot && p.hasRecurringFields() {
		return j, invalid("recurrence fields do not apply to oneshot jobs")
	}
	if j.Kind == KindRecurring && p.hasOneshotFields() {
		return j, invalid("start and finish do not apply to recurring jobs")
	}

	n := j.Clone()
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setD := func(dst *time.Duration, v *Duration) {
		if v != nil {
			*dst = v.Std()
		}
	}
	setF(&n.ACPower, p.ACPower)
	setF(&n.DCPower, p.DCPower)
	setF(&n.Benefit, p.Benefit)
	if p.Force != nil {
		n.Force = *p.Force
	}
	if p.Enabled != nil {
		n.Enabled = *p.Enabled
	}
	setD(&n.MaximumDuration, p.MaximumDuration)
	setD(&n.MinimumDuration, p.MinimumDuration)
	setD(&n.MinimumBurst, p.MinimumBurst)

	if p.Frequency != nil {
		n.Recurrence.Frequency = *p.Frequency
		switch *p.Frequency {
		case FrequencyWeekly, FrequencyCustom:
		default:
			n.Recurrence.Days = nil
		}
	}
	if p.DayOfWeek != nil {
		n.Recurrence.Days = []int{*p.DayOfWeek}
	}
	if p.DaysOfWeek != nil {
		n.Recurrence.Days = append([]int(nil), (*p.DaysOfWeek)...)
	}
	if p.TimeWindowStart != nil {
		n.Window.Start = *p.TimeWindowStart
	}
	if p.TimeWindowEnd != nil {
		n.Window.End = *p.TimeWindowEnd
	}
	if p.Start != nil {
		n.Span.Start = *p.Start
	}
	if p.Finish != nil {
		n.Span.End = *p.Finish
	}
	if err := n.Validate(); err != nil {
		return j, err
	}
	return n, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}
