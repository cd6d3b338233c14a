package summary

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/internal/eventbus"
)

// Publisher pushes projections to an external channel such as retained
// MQTT topics.
type Publisher interface {
	PublishSummary(s Summary) error
	PublishJob(p JobProjection) error
	ClearJob(jobID string) error
}

// ScheduleSource provides the schedule in force.
type ScheduleSource interface {
	Load() (*model.Schedule, uint64)
}

// JobSource provides the registered jobs in creation order.
type JobSource interface {
	Snapshot() []model.Job
}

// Reporter computes the summary and forwards it to the metrics sink and
// the projection publisher.
type Reporter struct {
	sched      ScheduleSource
	jobs       JobSource
	sink       metrics.Sink
	pub        Publisher
	staleAfter time.Duration
	log        logger.Logger
	now        func() time.Time
}

// NewReporter returns a reporter. sink and pub may be nil.
func NewReporter(sched ScheduleSource, jobs JobSource, sink metrics.Sink, pub Publisher, staleAfter time.Duration, log logger.Logger) *Reporter {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Reporter{sched: sched, jobs: jobs, sink: sink, pub: pub, staleAfter: staleAfter, log: logger.OrNop(log), now: time.Now}
}

// SetClock overrides the time source.
func (r *Reporter) SetClock(now func() time.Time) { r.now = now }

// Current computes the summary without reporting it.
func (r *Reporter) Current() Summary {
	s, gen := r.sched.Load()
	return Compute(Input{Schedule: s, Generation: gen, Jobs: r.jobs.Snapshot(), Now: r.now(), StaleAfter: r.staleAfter})
}

// Report computes the summary and pushes it out. Every output is attempted;
// the errors are joined.
func (r *Reporter) Report() (Summary, error) {
	now := r.now()
	sum := r.Current()
	ev := metrics.SummaryEvent{
		NetValue:       sum.NetValue,
		TotalCost:      sum.TotalCost,
		TotalBenefit:   sum.TotalBenefit,
		ExportRevenue:  sum.ExportRevenue,
		Stale:          sum.Stale,
		Jobs:           scheduledJobs(sum.Jobs),
		ForceCharge:    sum.ForceCharge,
		ForceDischarge: sum.ForceDischarge,
		Time:           now,
	}
	if sum.SoCEndKWh != nil {
		ev.SoCEndKWh, ev.HasSoC = *sum.SoCEndKWh, true
	}
	if sum.ScheduleAge != nil {
		ev.ScheduleAge, ev.HasSchedule = *sum.ScheduleAge, true
	}

	var errs []error
	errs = append(errs, r.sink.RecordSummary(ev))
	jobRec, _, _ := metrics.Recorders(r.sink)
	for _, p := range sum.Jobs {
		errs = append(errs, jobRec.RecordJob(metrics.JobEvent{
			JobID: p.JobID, ScheduledNow: p.ScheduledNow, RunTime: p.RunTime,
			Cost: p.Cost, Benefit: p.Benefit, Time: now,
		}))
	}
	if r.pub != nil {
		errs = append(errs, r.pub.PublishSummary(sum))
		for _, p := range sum.Jobs {
			errs = append(errs, r.pub.PublishJob(p))
		}
	}
	return sum, errors.Join(errs...)
}

func scheduledJobs(ps []JobProjection) int {
	n := 0
	for _, p := range ps {
		if p.Scheduled {
			n++
		}
	}
	return n
}

// Run reports every interval, after each installed schedule and after job
// changes, until ctx is done. Deleted jobs have their projections cleared.
func (r *Reporter) Run(ctx context.Context, interval time.Duration, schedules <-chan eventbus.ScheduleReplaced, jobs <-chan eventbus.JobChanged) error {
	if interval <= 0 {
		interval = time.Minute
	}
	report := func() {
		if _, err := r.Report(); err != nil {
			r.log.Warnf("report projections: %v", err)
		}
	}
	report()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			report()
		case _, ok := <-schedules:
			if !ok {
				schedules = nil
				continue
			}
			report()
		case ev, ok := <-jobs:
			if !ok {
				jobs = nil
				continue
			}
			if ev.Op == eventbus.JobDeleted && r.pub != nil {
				if err := r.pub.ClearJob(ev.JobID); err != nil {
					r.log.Warnf("clear projection of %s: %v", ev.JobID, err)
				}
			}
			report()
		}
	}
}
