package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/core/model"
	"github.com/kilianp07/erg/core/scheduler"
	"github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/tariff"
	"github.com/kilianp07/erg/internal/eventbus"
)

// ErrRefreshLimited is returned by Refresh when manual refreshes come in
// faster than the configured rate.
var ErrRefreshLimited = errors.New("refresh rate limited")

// JobSource provides the registered jobs.
type JobSource interface {
	Snapshot() []model.Job
}

// TariffSource provides the configured tariffs.
type TariffSource interface {
	Tariffs() []tariff.Tariff
}

// SoCSource reports the current battery charge in kWh.
type SoCSource interface {
	SoC() (kwh float64, ok bool)
}

// Config controls the fetch cadence.
type Config struct {
	Interval   time.Duration
	Timeout    time.Duration
	StaleAfter time.Duration
	// RefreshRate and RefreshBurst bound manual refreshes.
	RefreshRate  rate.Limit
	RefreshBurst int
}

// Deps are the collaborators of a Fetcher. Jobs, Tariffs, Client, Builder
// and Holder are required.
type Deps struct {
	Jobs    JobSource
	Tariffs TariffSource
	SoC     SoCSource
	Running func(jobID string) bool
	Client  solver.Client
	Builder *scheduler.Builder
	Holder  *Holder
	Hub     *eventbus.Hub
	Metrics metrics.FetchRecorder
	Logger  logger.Logger
	Clock   func() time.Time
}

// Fetcher obtains schedules from the solver and installs them in the holder.
type Fetcher struct {
	cfg     Config
	d       Deps
	log     logger.Logger
	now     func() time.Time
	group   singleflight.Group
	limiter *rate.Limiter

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewFetcher validates deps and returns a fetcher.
func NewFetcher(cfg Config, d Deps) (*Fetcher, error) {
	if d.Jobs == nil || d.Tariffs == nil || d.Client == nil || d.Builder == nil || d.Holder == nil {
		return nil, fmt.Errorf("schedule: jobs, tariffs, client, builder and holder are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RefreshRate == 0 {
		cfg.RefreshRate = rate.Every(10 * time.Second)
	}
	if cfg.RefreshBurst <= 0 {
		cfg.RefreshBurst = 1
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	now := d.Clock
	if now == nil {
		now = time.Now
	}
	return &Fetcher{
		cfg:     cfg,
		d:       d,
		log:     logger.OrNop(d.Logger),
		now:     now,
		limiter: rate.NewLimiter(cfg.RefreshRate, cfg.RefreshBurst),
	}, nil
}

// Holder returns the holder the fetcher installs into.
func (f *Fetcher) Holder() *Holder { return f.d.Holder }

// Run fetches immediately and then every interval until ctx is done.
// Failures never stop the loop.
func (f *Fetcher) Run(ctx context.Context) error {
	f.Tick(ctx)
	t := time.NewTicker(f.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			f.Tick(ctx)
		}
	}
}

// Tick runs one scheduled cycle: it reports staleness, then fetches unless
// a rate-limit backoff is in effect.
func (f *Fetcher) Tick(ctx context.Context) {
	now := f.now()
	f.checkStale(now)
	if until, ok := f.backoff(now); ok {
		f.log.Infof("skipping scheduled fetch, solver rate limit until %s", until.Format(time.RFC3339))
		f.record(metrics.FetchEvent{Outcome: metrics.FetchSkippedBackoff, Time: now})
		return
	}
	if _, _, err := f.FetchNow(ctx); err != nil {
		f.log.Debugf("scheduled fetch: %v", err)
	}
}

// Refresh is the manual trigger. It is rate limited and joins a fetch that
// is already in flight. During a solver backoff it returns a
// *solver.RateLimitError carrying the remaining wait.
func (f *Fetcher) Refresh(ctx context.Context) (*model.Schedule, uint64, error) {
	now := f.now()
	if until, ok := f.backoff(now); ok {
		return nil, 0, &solver.RateLimitError{RetryAfter: until.Sub(now)}
	}
	if !f.limiter.AllowN(now, 1) {
		return nil, 0, ErrRefreshLimited
	}
	return f.FetchNow(ctx)
}

type result struct {
	sched      *model.Schedule
	generation uint64
}

// FetchNow performs a fetch, sharing it with concurrent callers.
func (f *Fetcher) FetchNow(ctx context.Context) (*model.Schedule, uint64, error) {
	v, err, _ := f.group.Do("fetch", func() (any, error) {
		return f.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, 0, err
	}
	r := v.(result)
	return r.sched, r.generation, nil
}

func (f *Fetcher) fetch(ctx context.Context) (result, error) {
	start := f.now()
	prev, _ := f.d.Holder.Load()
	in := scheduler.Inputs{
		Now:      start,
		Jobs:     f.d.Jobs.Snapshot(),
		Tariffs:  f.d.Tariffs.Tariffs(),
		Running:  f.d.Running,
		Previous: prev,
	}
	if f.d.SoC != nil {
		in.SoCKWh, in.HasSoC = f.d.SoC.SoC()
	}
	plan := f.d.Builder.Build(in)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	sched, err := f.d.Client.Fetch(ctx, plan.Request)
	if err == nil && sched == nil {
		err = fmt.Errorf("%w: empty schedule", solver.ErrInvalidResponse)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, solver.ErrUnreachable) {
		err = fmt.Errorf("%w: %w", solver.ErrUnreachable, err)
	}

	end := f.now()
	ev := metrics.FetchEvent{
		Outcome:    Outcome(err),
		Duration:   end.Sub(start),
		Boxes:      len(plan.Request.Boxes),
		Ineligible: len(plan.Ineligible),
		Time:       end,
	}
	f.record(ev)

	if err != nil {
		f.fail(end, err)
		return result{}, err
	}
	if len(plan.Preserved) > 0 {
		sched = scheduler.Preserve(sched, plan.Preserved)
		f.log.Debugf("kept %d runs in progress across the re-solve", len(plan.Preserved))
	}
	gen := f.d.Holder.Install(sched)
	f.log.Infof("installed schedule generation %d: %d assignments, net value %.3f",
		gen, len(sched.Assignments), sched.TotalBenefit+sched.ExportRevenue-sched.TotalCost)
	if f.d.Hub != nil {
		f.d.Hub.Schedule.Publish(eventbus.ScheduleReplaced{Generation: gen, FetchedAt: sched.FetchedAt})
	}
	return result{sched: sched, generation: gen}, nil
}

func (f *Fetcher) fail(at time.Time, err error) {
	f.d.Holder.RecordFailure(at, err)
	var rl *solver.RateLimitError
	if errors.As(err, &rl) {
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = f.cfg.Interval
		}
		f.mu.Lock()
		f.backoffUntil = at.Add(wait)
		f.mu.Unlock()
	}
	if _, ok := f.d.Holder.LastSuccess(); ok {
		f.log.Warnf("schedule fetch failed, keeping previous schedule: %v", err)
	} else {
		f.log.Warnf("schedule fetch failed, no schedule available: %v", err)
	}
	if f.d.Hub != nil {
		f.d.Hub.Failures.Publish(eventbus.FetchFailed{At: at, Err: err})
	}
}

func (f *Fetcher) backoff(now time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backoffUntil, now.Before(f.backoffUntil)
}

func (f *Fetcher) checkStale(now time.Time) {
	if f.cfg.StaleAfter <= 0 {
		return
	}
	age, ok := f.d.Holder.Age(now)
	if !ok || age <= f.cfg.StaleAfter {
		return
	}
	f.log.Warnf("schedule is stale: fetched %s ago (threshold %s)", age.Round(time.Second), f.cfg.StaleAfter)
	f.record(metrics.FetchEvent{Outcome: metrics.FetchStale, Time: now})
}

func (f *Fetcher) record(ev metrics.FetchEvent) {
	if err := f.d.Metrics.RecordFetch(ev); err != nil {
		f.log.Errorf("record fetch metrics: %v", err)
	}
}

// Outcome classifies a fetch error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.FetchSuccess
	case errors.Is(err, solver.ErrRateLimited):
		return metrics.FetchRateLimited
	case errors.Is(err, solver.ErrUnauthorized):
		return metrics.FetchUnauthorized
	case errors.Is(err, solver.ErrInvalidResponse):
		return metrics.FetchInvalid
	default:
		return metrics.FetchUnreachable
	}
}
