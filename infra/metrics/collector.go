package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/internal/eventbus"
)

// StartJobCollector removes the per-job series of deleted jobs from sink.
// It returns when ctx is canceled or the bus is closed.
func StartJobCollector(ctx context.Context, bus *eventbus.TypedBus[eventbus.JobChanged], sink coremetrics.Sink) {
	if bus == nil || sink == nil {
		return
	}
	remover, ok := sink.(coremetrics.JobRemover)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Op == eventbus.JobDeleted {
				_ = remover.RemoveJob(ev.JobID)
			}
		}
	}
}
