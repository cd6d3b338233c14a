package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/erg/core/model"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func slot(i int, cost, benefit float64) model.RunInterval {
	s := base.Add(time.Duration(i) * 15 * time.Minute)
	return model.RunInterval{Start: s, End: s.Add(15 * time.Minute), Cost: cost, Benefit: benefit}
}

func TestTouchingIntervalsMerge(t *testing.T) {
	s := &model.Schedule{Assignments: []model.Assignment{{
		JobID:     "switch.pool_pump",
		Intervals: []model.RunInterval{slot(0, 0.1, 0.3), slot(1, 0.2, 0.3), slot(2, 0.3, 0.4)},
	}}}
	events := Project(s, nil).Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "Pool Pump", e.Summary)
	assert.Equal(t, base, e.Start)
	assert.Equal(t, base.Add(45*time.Minute), e.End)
	assert.Equal(t, 45*time.Minute, e.Duration)
	assert.InDelta(t, 0.6, e.Cost, 1e-9)
	assert.InDelta(t, 1.0, e.Benefit, 1e-9)
}

func TestGappedIntervalsStaySeparate(t *testing.T) {
	s := &model.Schedule{Assignments: []model.Assignment{{
		JobID:     "switch.pool_pump",
		Intervals: []model.RunInterval{slot(3, 0.5, 0), slot(0, 0.1, 0), slot(1, 0.2, 0)},
	}}}
	events := Project(s, nil).Events()
	require.Len(t, events, 2)
	assert.Equal(t, base, events[0].Start)
	assert.Equal(t, base.Add(30*time.Minute), events[0].End)
	assert.InDelta(t, 0.3, events[0].Cost, 1e-9)
	assert.Equal(t, base.Add(45*time.Minute), events[1].Start)
	assert.InDelta(t, 0.5, events[1].Cost, 1e-9)
}

func TestEventsOrderedByStartThenCreation(t *testing.T) {
	s := &model.Schedule{Assignments: []model.Assignment{
		{JobID: "switch.b", Intervals: []model.RunInterval{slot(0, 0, 0)}},
		{JobID: "switch.a", Intervals: []model.RunInterval{slot(0, 0, 0)}},
		{JobID: "switch.c", Intervals: []model.RunInterval{slot(-1, 0, 0)}},
		{JobID: "__active_switch.a__", Intervals: []model.RunInterval{slot(-2, 0, 0)}},
	}}
	events := Project(s, map[string]int{"switch.b": 0, "switch.a": 1}).Events()
	var ids []string
	for _, e := range events {
		ids = append(ids, e.JobID)
	}
	assert.Equal(t, []string{"switch.c", "switch.b", "switch.a"}, ids)
}

func TestBetweenAndNext(t *testing.T) {
	s := &model.Schedule{Assignments: []model.Assignment{
		{JobID: "switch.a", Intervals: []model.RunInterval{slot(0, 0, 0), slot(4, 0, 0)}},
		{JobID: "switch.b", Intervals: []model.RunInterval{slot(2, 0, 0)}},
	}}
	c := Project(s, nil)
	require.Equal(t, 3, c.Len())

	got := c.Between(base.Add(10*time.Minute), base.Add(31*time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, "switch.a", got[0].JobID)
	assert.Equal(t, "switch.b", got[1].JobID)
	assert.Len(t, c.Between(time.Time{}, time.Time{}), 3)

	next, ok := c.Next(base.Add(15 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, "switch.b", next.JobID)
	_, ok = c.Next(base.Add(24 * time.Hour))
	assert.False(t, ok)
	assert.Len(t, c.ForJob("switch.a"), 2)
}

func TestProjectNilSchedule(t *testing.T) {
	c := Project(nil, nil)
	assert.Zero(t, c.Len())
	_, ok := c.Next(base)
	assert.False(t, ok)
}

func TestFriendlyName(t *testing.T) {
	cases := map[string]string{
		"switch.pool_pump":     "Pool Pump",
		"light.kitchen-lights": "Kitchen Lights",
		"heater":               "Heater",
		"switch.":              "switch.",
	}
	for in, want := range cases {
		assert.Equal(t, want, FriendlyName(in), in)
	}
}
