package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kilianp07/erg/api"
	"github.com/kilianp07/erg/api/jobs"
	"github.com/kilianp07/erg/api/projections"
	"github.com/kilianp07/erg/api/tariffs"
	"github.com/kilianp07/erg/auth"
	"github.com/kilianp07/erg/config"
	coremetrics "github.com/kilianp07/erg/core/metrics"
	coremon "github.com/kilianp07/erg/core/monitoring"
	"github.com/kilianp07/erg/core/reconcile"
	"github.com/kilianp07/erg/core/registry"
	"github.com/kilianp07/erg/core/schedule"
	"github.com/kilianp07/erg/core/scheduler"
	coresolver "github.com/kilianp07/erg/core/solver"
	"github.com/kilianp07/erg/core/summary"
	"github.com/kilianp07/erg/core/tariff"
	"github.com/kilianp07/erg/infra/logger"
	"github.com/kilianp07/erg/infra/metrics"
	"github.com/kilianp07/erg/infra/monitoring"
	"github.com/kilianp07/erg/infra/mqtt"
	"github.com/kilianp07/erg/infra/solver"
	"github.com/kilianp07/erg/internal/eventbus"
)

// reportInterval bounds how old the published schedule age may get.
const reportInterval = time.Minute

// Devices is the device side of the service: actuation, battery reading
// and retained projections. The MQTT client implements all three.
type Devices struct {
	Actuator  reconcile.Actuator
	SoC       schedule.SoCSource
	Publisher summary.Publisher
}

// Service wires the registry, the fetch and reconcile loops, the
// projections and the HTTP surface.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Hub        *eventbus.Hub
	Registry   *registry.Registry
	Tariffs    *tariff.Store
	Holder     *schedule.Holder
	Fetcher    *schedule.Fetcher
	Reconciler *reconcile.Reconciler
	Reporter   *summary.Reporter
	Sink       coremetrics.Sink

	router  http.Handler
	closers []func()
}

// New creates a Service talking to the configured solver and MQTT broker.
func New(cfg *config.Config) (*Service, error) {
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	client, err := mqtt.NewPahoClient(cfg.MQTT, cfg.System.BatteryCapacity)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	sol := NewSolverClient(cfg.Solver)
	dev := Devices{Actuator: client, SoC: client, Publisher: client}
	svc, err := Build(cfg, sol, dev)
	if err != nil {
		client.Disconnect()
		return nil, err
	}
	svc.closers = append(svc.closers, client.Disconnect)
	return svc, nil
}

// NewSolverClient returns the HTTP solver client for cfg, authenticating
// with OAuth2 client credentials when they are configured.
func NewSolverClient(cfg config.SolverConfig) *solver.HTTPClient {
	hc := &http.Client{Timeout: cfg.Timeout}
	opts := []solver.Option{
		solver.WithToken(cfg.Token),
		solver.WithHTTPClient(hc),
		solver.WithLogger(logger.New("solver")),
	}
	if cfg.OAuth.Enabled() {
		opts = append(opts, solver.WithAuthorizer(auth.NewClientCred(cfg.OAuth, hc)))
	}
	return solver.New(cfg.URL, opts...)
}

// Build assembles a Service around the given solver client and devices.
// Devices.SoC and Devices.Publisher may be nil.
func Build(cfg *config.Config, sol coresolver.Client, dev Devices) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	log := logger.New("service")

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	_, actuations, fetches := coremetrics.Recorders(sink)

	specs, err := tariff.FromSpecs(cfg.Tariffs)
	if err != nil {
		return nil, fmt.Errorf("tariffs: %w", err)
	}
	hub := eventbus.NewHub()
	reg := registry.New(hub.Jobs, logger.New("registry"))
	if err := reg.Seed(cfg.Jobs); err != nil {
		return nil, err
	}
	store := tariff.NewStore(specs)
	holder := schedule.NewHolder()

	rec, err := reconcile.New(reconcile.Config{
		Tick:           cfg.Reconciler.Tick,
		CommandTimeout: cfg.Reconciler.CommandTimeout,
		CommandGrace:   cfg.Reconciler.CommandGrace,
		Location:       loc,
	}, reconcile.Deps{
		Actuator: dev.Actuator,
		Jobs:     reg,
		Schedule: holder,
		Metrics:  actuations,
		Logger:   logger.New("reconciler"),
	})
	if err != nil {
		return nil, err
	}

	builder := scheduler.NewBuilder(scheduler.Params{
		Slot:             cfg.Schedule.SlotDuration,
		HorizonLength:    cfg.Schedule.Horizon,
		ExtendToEndOfDay: cfg.Schedule.ExtendToEndOfDay,
		UpdateInterval:   cfg.Schedule.UpdateInterval,
		Location:         loc,
		System:           cfg.System,
	}, logger.New("scheduler"))
	fetcher, err := schedule.NewFetcher(schedule.Config{
		Interval:     cfg.Schedule.UpdateInterval,
		Timeout:      cfg.Schedule.FetchTimeout,
		StaleAfter:   cfg.Schedule.StaleAfter,
		RefreshRate:  rate.Every(cfg.Schedule.RefreshInterval),
		RefreshBurst: cfg.Schedule.RefreshBurst,
	}, schedule.Deps{
		Jobs:    reg,
		Tariffs: store,
		SoC:     dev.SoC,
		Running: rec.Running,
		Client:  sol,
		Builder: builder,
		Holder:  holder,
		Hub:     hub,
		Metrics: fetches,
		Logger:  logger.New("fetcher"),
	})
	if err != nil {
		return nil, err
	}

	reporter := summary.NewReporter(holder, reg, sink, dev.Publisher, cfg.Schedule.StaleAfter, logger.New("reporter"))

	httpLog := logger.New("http")
	router := api.NewRouter(api.Handlers{
		Jobs:        jobs.NewHandler(reg, holder, rec, httpLog),
		Projections: projections.NewHandler(reporter, holder, reg, fetcher, httpLog),
		Tariffs:     tariffs.NewHandler(store, loc, httpLog),
		Status:      holder,
		JobCount:    reg,
	}, httpLog)

	svc := &Service{
		cfg:        cfg,
		log:        log,
		Hub:        hub,
		Registry:   reg,
		Tariffs:    store,
		Holder:     holder,
		Fetcher:    fetcher,
		Reconciler: rec,
		Reporter:   reporter,
		Sink:       sink,
		router:     router,
	}
	if c, ok := sink.(interface{ Close() }); ok {
		svc.closers = append(svc.closers, c.Close)
	}
	return svc, nil
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler { return s.router }

// Run starts every loop and server and blocks until ctx is canceled or one
// of them fails.
func (s *Service) Run(ctx context.Context) error {
	reconcileSub := s.Hub.Schedule.Subscribe()
	reportSub := s.Hub.Schedule.Subscribe()
	reportJobs := s.Hub.Jobs.Subscribe()
	forgetJobs := s.Hub.Jobs.Subscribe()
	defer func() {
		s.Hub.Schedule.Unsubscribe(reconcileSub)
		s.Hub.Schedule.Unsubscribe(reportSub)
		s.Hub.Jobs.Unsubscribe(reportJobs)
		s.Hub.Jobs.Unsubscribe(forgetJobs)
	}()

	failures := s.Hub.Failures.Subscribe()
	defer s.Hub.Failures.Unsubscribe(failures)

	g, gctx := errgroup.WithContext(ctx)
	goGuarded := func(fn func() error) {
		g.Go(func() error {
			defer coremon.Current().Recover()
			return fn()
		})
	}
	goGuarded(func() error { return s.Fetcher.Run(gctx) })
	goGuarded(func() error { return s.Reconciler.Run(gctx, reconcileSub) })
	goGuarded(func() error { return s.Reporter.Run(gctx, reportInterval, reportSub, reportJobs) })
	goGuarded(func() error { return api.Serve(gctx, s.cfg.HTTP.Addr, s.router, logger.New("http")) })
	goGuarded(func() error {
		s.forgetDeleted(gctx, forgetJobs)
		return nil
	})
	goGuarded(func() error {
		s.captureFailures(gctx, failures)
		return nil
	})
	goGuarded(func() error {
		metrics.StartJobCollector(gctx, s.Hub.Jobs, s.Sink)
		return nil
	})
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		goGuarded(func() error { return metrics.StartPromServer(gctx, addr, nil) })
	}
	s.log.Infof("service started with %d jobs", s.Registry.Len())
	return g.Wait()
}

// forgetDeleted drops the reconciliation state of deleted jobs so a job
// recreated under the same entity starts from scratch.
func (s *Service) forgetDeleted(ctx context.Context, sub <-chan eventbus.JobChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Op == eventbus.JobDeleted {
				s.Reconciler.Forget(ev.JobID)
			}
		}
	}
}

// captureFailures reports failed fetches to the error tracker.
func (s *Service) captureFailures(ctx context.Context, sub <-chan eventbus.FetchFailed) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			coremon.CaptureException(ev.Err, map[string]string{
				"component": "fetcher",
				"outcome":   schedule.Outcome(ev.Err),
			})
		}
	}
}

// Close releases the buses, the sinks and the broker connection.
func (s *Service) Close() error {
	s.Hub.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	coremon.Flush(2 * time.Second)
	return nil
}
