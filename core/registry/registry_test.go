package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/internal/eventbus"
)

func ptr[T any](v T) *T { return &v }

func recurring(entity string) model.JobPatch {
	return model.JobPatch{Entity: ptr(entity), Kind: ptr(model.KindRecurring)}
}

func TestCreateGetSnapshotOrder(t *testing.T) {
	r := New(nil, nil)
	for _, e := range []string{"switch.c", "switch.a", "switch.b"} {
		id, err := r.Create(recurring(e))
		require.NoError(t, err)
		assert.Equal(t, e, id)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "switch.c", snap[0].Entity)
	assert.Equal(t, "switch.a", snap[1].Entity)
	assert.Equal(t, 2, r.Order()["switch.b"])

	j, ok := r.Get("switch.a")
	require.True(t, ok)
	assert.Equal(t, time.Hour, j.MaximumDuration)
}

func TestCreateDuplicate(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Create(recurring("switch.a"))
	require.NoError(t, err)
	_, err = r.Create(recurring("switch.a"))
	assert.ErrorIs(t, err, ErrExists)
	assert.ErrorIs(t, err, model.ErrInvalidSpec)
	assert.Equal(t, 1, r.Len())
}

func TestCreateInvalid(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Create(model.JobPatch{Kind: ptr(model.KindRecurring)})
	assert.ErrorIs(t, err, model.ErrInvalidSpec)
	assert.Zero(t, r.Len())
}

func TestUpdateFailureLeavesJobUnchanged(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Create(recurring("switch.a"))
	require.NoError(t, err)
	before, _ := r.Get("switch.a")

	minDur := model.Duration(2 * time.Hour)
	err = r.Update("switch.a", model.JobPatch{MinimumDuration: &minDur, Benefit: ptr(3.0)})
	require.ErrorIs(t, err, model.ErrInvalidSpec)
	after, _ := r.Get("switch.a")
	assert.Equal(t, before, after)

	require.NoError(t, r.Update("switch.a", model.JobPatch{Benefit: ptr(3.0)}))
	after, _ = r.Get("switch.a")
	assert.Equal(t, 3.0, after.Benefit)
}

func TestUpdateDeleteUnknown(t *testing.T) {
	r := New(nil, nil)
	assert.ErrorIs(t, r.Update("switch.x", model.JobPatch{}), ErrNotFound)
	assert.ErrorIs(t, r.Delete("switch.x"), ErrNotFound)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := New(nil, nil)
	p := recurring("switch.a")
	p.Frequency = ptr(model.FrequencyCustom)
	p.DaysOfWeek = ptr([]int{1, 2})
	_, err := r.Create(p)
	require.NoError(t, err)
	snap := r.Snapshot()
	snap[0].Recurrence.Days[0] = 6
	j, _ := r.Get("switch.a")
	assert.Equal(t, []int{1, 2}, j.Recurrence.Days)
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.NewTyped[eventbus.JobChanged]()
	ch := bus.Subscribe()
	r := New(bus, nil)
	_, err := r.Create(recurring("switch.a"))
	require.NoError(t, err)
	require.NoError(t, r.Update("switch.a", model.JobPatch{Force: ptr(true)}))
	require.NoError(t, r.Delete("switch.a"))

	want := []eventbus.JobOp{eventbus.JobCreated, eventbus.JobUpdated, eventbus.JobDeleted}
	for _, op := range want {
		ev := <-ch
		assert.Equal(t, eventbus.JobChanged{JobID: "switch.a", Op: op}, ev)
	}
	assert.Empty(t, r.Snapshot())
}

func TestConcurrentUpdatesSerialized(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Create(recurring("switch.a"))
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Update("switch.a", model.JobPatch{Benefit: ptr(float64(i))})
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()
	j, ok := r.Get("switch.a")
	require.True(t, ok)
	assert.True(t, j.Benefit >= 0 && j.Benefit < 50)
}

func TestSeed(t *testing.T) {
	r := New(nil, nil)
	err := r.Seed([]model.JobPatch{recurring("switch.a"), recurring("switch.a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExists), fmt.Sprint(err))
	assert.Equal(t, 1, r.Len())
}
