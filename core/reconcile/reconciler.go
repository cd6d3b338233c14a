// Package reconcile drives controlled entities towards the current schedule.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/internal/eventbus"
)

// JobSource provides the registered jobs.
type JobSource interface {
	Snapshot() []model.Job
}

// ScheduleSource provides the schedule in force and its generation.
type ScheduleSource interface {
	Load() (*model.Schedule, uint64)
}

// Config tunes the control loop.
type Config struct {
	// Tick is the loop period, normally the slot duration. Ticks are
	// aligned to multiples of Tick from local midnight.
	Tick           time.Duration
	CommandTimeout time.Duration
	// CommandGrace suppresses repeating a command the device has not
	// reported yet.
	CommandGrace time.Duration
	Location     *time.Location
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Actuator Actuator
	Jobs     JobSource
	Schedule ScheduleSource
	Metrics  metrics.ActuationRecorder
	Logger   logger.Logger
	Clock    func() time.Time
}

// JobState is the reconciliation state kept for one job.
type JobState struct {
	LastCommanded   DeviceState `json:"last_commanded,omitempty"`
	CommandIssuedAt time.Time   `json:"command_issued_at,omitempty"`
	RunStartedAt    time.Time   `json:"run_started_at,omitempty"`
	RunGeneration   uint64      `json:"run_generation,omitempty"`
	LastObserved    DeviceState `json:"last_observed,omitempty"`
}

// Outcome of one job in a tick.
type Outcome string

const (
	OutcomeInSync     Outcome = "in_sync"
	OutcomeCommanded  Outcome = "commanded"
	OutcomeFailed     Outcome = "failed"
	OutcomeHeld       Outcome = "held"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSkipped    Outcome = "skipped"
	// OutcomeNoSchedule leaves the device alone until a first schedule is
	// installed.
	OutcomeNoSchedule Outcome = "no_schedule"
)

// Action reports what a tick decided for one job.
type Action struct {
	JobID   string
	Desired DeviceState
	Actual  DeviceState
	Outcome Outcome
	Err     error
}

// Reconciler compares desired and actual device states once per tick and
// issues the commands needed to converge.
type Reconciler struct {
	cfg Config
	d   Deps
	log logger.Logger
	now func() time.Time

	mu    sync.Mutex
	state map[string]*JobState
}

// New returns a reconciler.
func New(cfg Config, d Deps) (*Reconciler, error) {
	if d.Actuator == nil || d.Jobs == nil || d.Schedule == nil {
		return nil, fmt.Errorf("reconcile: actuator, jobs and schedule are required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Minute
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	now := d.Clock
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		cfg:   cfg,
		d:     d,
		log:   logger.OrNop(d.Logger),
		now:   now,
		state: make(map[string]*JobState),
	}, nil
}

// Run reconciles once, then on every aligned tick and every time a new
// schedule is installed. schedules may be nil.
func (r *Reconciler) Run(ctx context.Context, schedules <-chan eventbus.ScheduleReplaced) error {
	r.Reconcile(ctx)
	timer := time.NewTimer(r.untilNextTick(r.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			r.Reconcile(ctx)
			timer.Reset(r.untilNextTick(r.now()))
		case ev, ok := <-schedules:
			if !ok {
				schedules = nil
				continue
			}
			r.log.Debugf("schedule generation %d installed, reconciling", ev.Generation)
			r.Reconcile(ctx)
		}
	}
}

func (r *Reconciler) untilNextTick(now time.Time) time.Duration {
	return NextTick(now, r.cfg.Tick, r.cfg.Location).Sub(now)
}

// NextTick returns the first multiple of tick after local midnight that is
// strictly after now.
func NextTick(now time.Time, tick time.Duration, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	n := now.Sub(midnight) / tick
	return midnight.Add((n + 1) * tick)
}

// Reconcile runs one tick over every registered job.
func (r *Reconciler) Reconcile(ctx context.Context) []Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sched, gen := r.d.Schedule.Load()
	jobs := r.d.Jobs.Snapshot()

	live := make(map[string]bool, len(jobs))
	actions := make([]Action, 0, len(jobs))
	for _, j := range jobs {
		live[j.ID()] = true
		actions = append(actions, r.reconcileJob(ctx, j, sched, gen, now))
	}
	for id := range r.state {
		if !live[id] {
			delete(r.state, id)
		}
	}
	return actions
}

func (r *Reconciler) reconcileJob(ctx context.Context, j model.Job, sched *model.Schedule, gen uint64, now time.Time) Action {
	id := j.ID()
	st := r.state[id]
	if st == nil {
		st = &JobState{}
		r.state[id] = st
	}

	act := Action{JobID: id}
	actual, err := r.readState(ctx, id)
	act.Actual = actual
	if err != nil {
		r.log.Debugf("skipping %s: %v", id, err)
		act.Outcome, act.Err = OutcomeSkipped, err
		return act
	}
	r.observe(st, actual, gen, now)
	if sched == nil {
		act.Desired, act.Outcome = actual, OutcomeNoSchedule
		return act
	}

	desired := StateOf(j.Enabled && sched.ActiveAt(id, now))
	act.Desired = desired

	if actual == StateOn && desired == StateOff && r.holdRun(j, st, gen, now) {
		r.log.Debugf("holding %s on until %s (run started under generation %d)",
			id, st.RunStartedAt.Add(j.MinimumBurst).Format(time.RFC3339), st.RunGeneration)
		r.record(metrics.ActuationEvent{JobID: id, On: true, Outcome: metrics.ActuationHeld, Time: now})
		act.Desired, act.Outcome = StateOn, OutcomeHeld
		return act
	}
	if desired == actual {
		act.Outcome = OutcomeInSync
		return act
	}
	if st.LastCommanded == desired && r.cfg.CommandGrace > 0 && now.Sub(st.CommandIssuedAt) < r.cfg.CommandGrace {
		act.Outcome = OutcomeSuppressed
		return act
	}

	start := r.now()
	err = r.command(ctx, id, desired)
	ev := metrics.ActuationEvent{JobID: id, On: desired == StateOn, Latency: r.now().Sub(start), Time: now}
	if err != nil {
		r.log.Errorf("turn %s %s: %v", desired, id, err)
		ev.Outcome = metrics.ActuationFailed
		r.record(ev)
		act.Outcome, act.Err = OutcomeFailed, err
		return act
	}
	ev.Outcome = metrics.ActuationOK
	r.record(ev)
	r.log.Infof("turned %s %s", desired, id)

	st.LastCommanded = desired
	st.CommandIssuedAt = now
	if desired == StateOn {
		st.RunStartedAt = now
		st.RunGeneration = gen
	}
	act.Outcome = OutcomeCommanded
	return act
}

// observe tracks run starts from reported transitions. A device found on
// without a preceding off report has an unknown start.
func (r *Reconciler) observe(st *JobState, actual DeviceState, gen uint64, now time.Time) {
	switch actual {
	case StateOff:
		st.RunStartedAt = time.Time{}
		st.RunGeneration = 0
	case StateOn:
		if st.LastObserved == StateOff && st.RunStartedAt.IsZero() {
			st.RunStartedAt = now
			st.RunGeneration = gen
		}
	}
	st.LastObserved = actual
}

func (r *Reconciler) holdRun(j model.Job, st *JobState, gen uint64, now time.Time) bool {
	if j.MinimumBurst <= 0 || st.RunStartedAt.IsZero() {
		return false
	}
	if st.RunGeneration >= gen {
		return false
	}
	return now.Before(st.RunStartedAt.Add(j.MinimumBurst))
}

func (r *Reconciler) readState(ctx context.Context, id string) (DeviceState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()
	s, err := r.d.Actuator.State(ctx, id)
	if err != nil {
		return StateUnknown, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if !s.Known() {
		return s, fmt.Errorf("%w: state %s", ErrDeviceUnavailable, s)
	}
	return s, nil
}

func (r *Reconciler) command(ctx context.Context, id string, want DeviceState) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()
	if want == StateOn {
		return r.d.Actuator.TurnOn(ctx, id)
	}
	return r.d.Actuator.TurnOff(ctx, id)
}

func (r *Reconciler) record(ev metrics.ActuationEvent) {
	if err := r.d.Metrics.RecordActuation(ev); err != nil {
		r.log.Errorf("record actuation: %v", err)
	}
}

// States returns a copy of the per-job state.
func (r *Reconciler) States() map[string]JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]JobState, len(r.state))
	for id, st := range r.state {
		out[id] = *st
	}
	return out
}

// Running reports whether the job's device was last observed on.
func (r *Reconciler) Running(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[jobID]
	return ok && st.LastObserved == StateOn
}

// Forget drops the state of a job.
func (r *Reconciler) Forget(jobID string) {
	r.mu.Lock()
	delete(r.state, jobID)
	r.mu.Unlock()
}
