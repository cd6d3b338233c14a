package solver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/erg/core/model"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func horizon() Horizon {
	return Horizon{Start: t0, End: t0.Add(2 * time.Hour), SlotDuration: model.Duration(15 * time.Minute)}
}

func TestDecodeResponseSlotObjects(t *testing.T) {
	body := `{
	  "assignments": [
	    {"entity": "switch.b", "slots": [
	      {"start": "2025-06-01T10:30:00Z", "energy_cost": 0.2, "energy_benefit": 0.5},
	      {"start": "2025-06-01T10:15:00Z", "energy_cost": 0.1, "energy_benefit": 0.5}
	    ]},
	    {"entity": "__active_switch.c__", "slots": [{"start": "2025-06-01T10:00:00Z"}]},
	    {"entity": "switch.b", "slots": [{"start": "2025-06-01T11:00:00Z", "energy_cost": 0.3}]}
	  ],
	  "total_cost": 3.0, "total_benefit": 5.0, "export_revenue": 1.2, "net_value": 3.2,
	  "battery_profile": [{"time": "2025-06-01T10:00:00Z", "soc_kwh": 4}, {"time": "2025-06-01T10:15:00Z", "soc_kwh": 4.5}]
	}`
	s, err := DecodeResponse([]byte(body), horizon(), t0)
	require.NoError(t, err)
	require.Len(t, s.Assignments, 1)
	a := s.Assignments[0]
	assert.Equal(t, "switch.b", a.JobID)
	require.Len(t, a.Intervals, 3)
	assert.Equal(t, t0.Add(15*time.Minute), a.Intervals[0].Start)
	assert.Equal(t, t0.Add(30*time.Minute), a.Intervals[0].End)
	assert.Equal(t, 0.1, a.Intervals[0].Cost)
	assert.Equal(t, 0.3, a.Intervals[2].Cost)
	assert.Equal(t, 3.0, s.TotalCost)
	assert.Equal(t, 1.2, s.ExportRevenue)
	assert.Len(t, s.BatteryProfile, 2)
	assert.Equal(t, 15*time.Minute, s.SlotDuration)
}

func TestDecodeResponseBareSlots(t *testing.T) {
	body := `{"assignments": [{"entity": "switch.a",
	  "slots": ["2025-06-01T10:00:00Z", "2025-06-01T10:15:00Z"],
	  "energy_cost": 1.0, "energy_benefit": 3.0}]}`
	s, err := DecodeResponse([]byte(body), horizon(), t0)
	require.NoError(t, err)
	ivs := s.Assignments[0].Intervals
	require.Len(t, ivs, 2)
	assert.Equal(t, 0.5, ivs[0].Cost)
	assert.Equal(t, 1.5, ivs[1].Benefit)
}

func TestDecodeResponseRejects(t *testing.T) {
	cases := map[string]string{
		"malformed":   `{"assignments": [`,
		"misaligned":  `{"assignments": [{"entity": "switch.a", "slots": [{"start": "2025-06-01T10:07:00Z"}]}]}`,
		"before":      `{"assignments": [{"entity": "switch.a", "slots": [{"start": "2025-06-01T09:45:00Z"}]}]}`,
		"past end":    `{"assignments": [{"entity": "switch.a", "slots": [{"start": "2025-06-01T12:00:00Z"}]}]}`,
		"duplicate":   `{"assignments": [{"entity": "switch.a", "slots": [{"start": "2025-06-01T10:00:00Z"}, {"start": "2025-06-01T10:00:00Z"}]}]}`,
		"no entity":   `{"assignments": [{"slots": []}]}`,
		"soc order":   `{"battery_profile": [{"time": "2025-06-01T10:15:00Z"}, {"time": "2025-06-01T10:00:00Z"}]}`,
		"bad slot ts": `{"assignments": [{"entity": "switch.a", "slots": ["yesterday"]}]}`,
	}
	for name, body := range cases {
		_, err := DecodeResponse([]byte(body), horizon(), t0)
		assert.ErrorIs(t, err, ErrInvalidResponse, name)
	}
}

func TestRateLimitError(t *testing.T) {
	var err error = &RateLimitError{RetryAfter: 30 * time.Second}
	assert.True(t, errors.Is(err, ErrRateLimited))
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	assert.Contains(t, err.Error(), "30s")
}

func TestRequestEntities(t *testing.T) {
	r := Request{Boxes: []Box{{Entity: "a"}, {Entity: "b"}, {Entity: "a"}}}
	assert.Equal(t, []string{"a", "b"}, r.Entities())
}
