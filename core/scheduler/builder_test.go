package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/tariff"
)

func ptr[T any](v T) *T { return &v }

func mustJob(t *testing.T, p model.JobPatch) model.Job {
	t.Helper()
	j, err := model.NewJob(p)
	require.NoError(t, err)
	return j
}

func params() Params {
	return Params{
		Slot:           5 * time.Minute,
		HorizonLength:  24 * time.Hour,
		UpdateInterval: 15 * time.Minute,
		Location:       time.UTC,
		System:         solver.System{GridImportLimit: 10, GridExportLimit: 5, InverterPower: 5, BatteryCapacity: 10},
	}
}

func TestHorizonAlignment(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 7, 30, 0, time.UTC)
	h := Horizon(now, 5*time.Minute, 24*time.Hour, false, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC), h.Start)
	assert.Equal(t, 24*time.Hour, h.Duration())

	h = Horizon(now, 5*time.Minute, 24*time.Hour, true, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), h.End)

	h = Horizon(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), time.Hour, 24*time.Hour, true, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), h.End)
}

func TestResolveSoC(t *testing.T) {
	assert.Equal(t, 5.0, ResolveSoC(50, "%", 10))
	assert.Equal(t, 3.2, ResolveSoC(3.2, "kWh", 10))
}

func TestBuildRecurringOvernightAndClamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	j := mustJob(t, model.JobPatch{
		Entity:          ptr("switch.heater"),
		Kind:            ptr(model.KindRecurring),
		MaximumDuration: ptr(model.Duration(5 * time.Hour)),
		TimeWindowStart: ptr(model.MustClock("22:00")),
		TimeWindowEnd:   ptr(model.MustClock("02:00")),
		ACPower:         ptr(2.0),
	})
	plan := NewBuilder(params(), nil).Build(Inputs{Now: now, Jobs: []model.Job{j}})
	require.Empty(t, plan.Ineligible)
	boxes := plan.Request.Boxes
	require.Len(t, boxes, 2)

	// Tonight's window is clipped to the horizon start.
	assert.Equal(t, now, boxes[0].StartTime)
	assert.Equal(t, time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC), boxes[0].FinishTime)
	assert.Equal(t, 3*time.Hour, boxes[0].MaximumDuration.Std())
	// Tomorrow night is cut by the horizon end.
	assert.Equal(t, time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC), boxes[1].StartTime)
	assert.Equal(t, time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC), boxes[1].FinishTime)
	assert.Equal(t, time.Hour, boxes[1].MaximumDuration.Std())
}

func TestBuildForcedNotClamped(t *testing.T) {
	now := time.Date(2025, 6, 1, 16, 30, 0, 0, time.UTC)
	j := mustJob(t, model.JobPatch{
		Entity:          ptr("switch.pump"),
		Kind:            ptr(model.KindRecurring),
		Force:           ptr(true),
		MaximumDuration: ptr(model.Duration(2 * time.Hour)),
		MinimumDuration: ptr(model.Duration(2 * time.Hour)),
	})
	p := params()
	p.HorizonLength = 2 * time.Hour
	plan := NewBuilder(p, nil).Build(Inputs{Now: now, Jobs: []model.Job{j}})
	require.Len(t, plan.Request.Boxes, 1)
	assert.Equal(t, 2*time.Hour, plan.Request.Boxes[0].MaximumDuration.Std())
	assert.True(t, plan.Request.Boxes[0].Force)
}

func TestBuildIneligible(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	p := params()
	p.HorizonLength = 2 * time.Hour

	disabled := mustJob(t, model.JobPatch{Entity: ptr("switch.a"), Kind: ptr(model.KindRecurring), Enabled: ptr(false)})
	outside := mustJob(t, model.JobPatch{
		Entity: ptr("switch.b"), Kind: ptr(model.KindOneshot),
		Start: ptr(now.Add(5 * time.Hour)), Finish: ptr(now.Add(6 * time.Hour)),
	})
	short := mustJob(t, model.JobPatch{
		Entity: ptr("switch.c"), Kind: ptr(model.KindOneshot),
		Start: ptr(now.Add(time.Hour + 30*time.Minute)), Finish: ptr(now.Add(4 * time.Hour)),
		MaximumDuration: ptr(model.Duration(time.Hour)), MinimumDuration: ptr(model.Duration(time.Hour)),
	})
	ok := mustJob(t, model.JobPatch{Entity: ptr("switch.d"), Kind: ptr(model.KindRecurring)})

	plan := NewBuilder(p, nil).Build(Inputs{Now: now, Jobs: []model.Job{disabled, outside, short, ok}})
	require.Len(t, plan.Ineligible, 3)
	assert.Equal(t, ReasonDisabled, plan.Ineligible[0].Reason)
	assert.Equal(t, ReasonNoWindow, plan.Ineligible[1].Reason)
	assert.Equal(t, ReasonTooShort, plan.Ineligible[2].Reason)
	assert.True(t, errors.Is(plan.Ineligible[0], ErrIneligible))
	require.Len(t, plan.Request.Boxes, 1)
	assert.Equal(t, "switch.d", plan.Request.Boxes[0].Entity)
}

type levelLogger struct {
	logger.Nop
	debug, warn []string
}

func (l *levelLogger) Debugf(format string, args ...any) {
	l.debug = append(l.debug, fmt.Sprintf(format, args...))
}

func (l *levelLogger) Warnf(format string, args ...any) {
	l.warn = append(l.warn, fmt.Sprintf(format, args...))
}

func TestBuildLogsDisabledAtDebug(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	disabled := mustJob(t, model.JobPatch{Entity: ptr("switch.a"), Kind: ptr(model.KindRecurring), Enabled: ptr(false)})
	outside := mustJob(t, model.JobPatch{
		Entity: ptr("switch.b"), Kind: ptr(model.KindOneshot),
		Start: ptr(now.Add(48 * time.Hour)), Finish: ptr(now.Add(49 * time.Hour)),
	})
	log := &levelLogger{}
	NewBuilder(params(), log).Build(Inputs{Now: now, Jobs: []model.Job{disabled, outside}})
	require.Len(t, log.warn, 1)
	assert.Contains(t, log.warn[0], "switch.b")
	require.Len(t, log.debug, 1)
	assert.Contains(t, log.debug[0], "switch.a")
}

func TestBuildOneshotClippedToHorizon(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	j := mustJob(t, model.JobPatch{
		Entity: ptr("switch.dishwasher"), Kind: ptr(model.KindOneshot),
		Start: ptr(now.Add(-time.Hour)), Finish: ptr(now.Add(48 * time.Hour)),
		MaximumDuration: ptr(model.Duration(90 * time.Minute)),
	})
	plan := NewBuilder(params(), nil).Build(Inputs{Now: now, Jobs: []model.Job{j}})
	require.Len(t, plan.Request.Boxes, 1)
	b := plan.Request.Boxes[0]
	assert.Equal(t, now, b.StartTime)
	assert.Equal(t, now.Add(24*time.Hour), b.FinishTime)
	assert.Equal(t, 90*time.Minute, b.MaximumDuration.Std())
}

func TestBuildDeductsElapsedRunTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	j := mustJob(t, model.JobPatch{
		Entity: ptr("switch.pool_pump"), Kind: ptr(model.KindRecurring),
		MaximumDuration: ptr(model.Duration(time.Hour)),
	})
	p := params()
	p.HorizonLength = 4 * time.Hour
	b := NewBuilder(p, nil)
	first := b.Build(Inputs{Now: now, Jobs: []model.Job{j}})
	require.Len(t, first.Request.Boxes, 1)

	prev := &model.Schedule{Assignments: []model.Assignment{{JobID: "switch.pool_pump", Intervals: []model.RunInterval{
		{Start: now, End: now.Add(5 * time.Minute)},
		{Start: now.Add(5 * time.Minute), End: now.Add(10 * time.Minute)},
		{Start: now.Add(20 * time.Minute), End: now.Add(25 * time.Minute)},
	}}}}
	later := now.Add(15 * time.Minute)
	second := b.Build(Inputs{Now: later, Jobs: []model.Job{j}, Previous: prev})
	require.Len(t, second.Request.Boxes, 1)
	assert.Equal(t, 50*time.Minute, second.Request.Boxes[0].MaximumDuration.Std())
	assert.Equal(t, 10*time.Minute, b.Ledger().Elapsed("switch.pool_pump"))

	full := &model.Schedule{Assignments: []model.Assignment{{JobID: "switch.pool_pump", Intervals: []model.RunInterval{
		{Start: later, End: later.Add(50 * time.Minute)},
	}}}}
	third := b.Build(Inputs{Now: later.Add(time.Hour), Jobs: []model.Job{j}, Previous: full})
	require.Len(t, third.Ineligible, 1)
	assert.Equal(t, ReasonExhausted, third.Ineligible[0].Reason)
}

func TestLedgerResetsAtMidnight(t *testing.T) {
	l := NewLedger(time.UTC)
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	l.Observe(nil, now)
	prev := &model.Schedule{Assignments: []model.Assignment{{JobID: "a", Intervals: []model.RunInterval{
		{Start: now, End: now.Add(30 * time.Minute)},
	}}}}
	l.Observe(prev, now.Add(40*time.Minute))
	assert.Equal(t, 30*time.Minute, l.Elapsed("a"))
	l.Observe(prev, now.Add(2*time.Hour))
	assert.Zero(t, l.Elapsed("a"))
}

func TestBuildInjectsActiveLoads(t *testing.T) {
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	p := params()
	p.HorizonLength = time.Hour
	heater := mustJob(t, model.JobPatch{Entity: ptr("switch.heater"), Kind: ptr(model.KindRecurring), ACPower: ptr(2.5)})
	idle := mustJob(t, model.JobPatch{Entity: ptr("switch.idle"), Kind: ptr(model.KindRecurring)})
	running := func(id string) bool { return true }

	plan := NewBuilder(p, nil).Build(Inputs{Now: now, Jobs: []model.Job{heater, idle}, Running: running})
	assert.Equal(t, []string{"switch.heater"}, plan.Injected)
	require.Len(t, plan.Request.Boxes, 1)
	box := plan.Request.Boxes[0]
	assert.Equal(t, "__active_switch.heater__", box.Entity)
	assert.True(t, box.Force)
	assert.Equal(t, 15*time.Minute, box.MaximumDuration.Std())
	assert.Equal(t, now.Add(15*time.Minute), box.FinishTime)
	assert.Len(t, plan.Ineligible, 2)
}

func TestBuildSystemAndTariffs(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ts, err := tariff.FromSpecs([]tariff.Spec{{Start: "00:00", End: "00:00", ImportPrice: 0.2}})
	require.NoError(t, err)
	plan := NewBuilder(params(), nil).Build(Inputs{Now: now, Tariffs: ts, SoCKWh: 4.5, HasSoC: true})
	assert.Equal(t, 4.5, plan.Request.System.StateOfCharge)
	assert.Equal(t, 10.0, plan.Request.System.GridImportLimit)
	assert.NotNil(t, plan.Request.Boxes)
	var covered time.Duration
	for _, pr := range plan.Request.Tariff.Periods {
		covered += pr.End.Sub(pr.Start)
	}
	assert.Equal(t, 24*time.Hour, covered)
}
