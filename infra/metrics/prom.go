package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/erg/core/metrics"
)

// PromSink exposes the schedule projections as Prometheus metrics.
type PromSink struct {
	netValue      prometheus.Gauge
	totalCost     prometheus.Gauge
	totalBenefit  prometheus.Gauge
	exportRevenue prometheus.Gauge
	socEnd        prometheus.Gauge
	age           prometheus.Gauge
	stale         prometheus.Gauge
	jobs          prometheus.Gauge
	charge        prometheus.Gauge
	discharge     prometheus.Gauge

	jobRunTime   *prometheus.GaugeVec
	jobCost      *prometheus.GaugeVec
	jobBenefit   *prometheus.GaugeVec
	jobActive    *prometheus.GaugeVec
	actuations   *prometheus.CounterVec
	fetches      *prometheus.CounterVec
	fetchLatency prometheus.Histogram
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The Prometheus server is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) (prometheus.Gauge, error) {
		return register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
	}
	jobGauge := func(name, help string) (*prometheus.GaugeVec, error) {
		return register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"job"}))
	}

	s := &PromSink{}
	var errs []error
	collect := func(err error) { errs = append(errs, err) }
	var err error
	s.netValue, err = gauge("erg_net_value", "Net value of the current schedule (benefit + export revenue - cost)")
	collect(err)
	s.totalCost, err = gauge("erg_total_cost", "Total energy cost of the current schedule")
	collect(err)
	s.totalBenefit, err = gauge("erg_total_benefit", "Total benefit of the current schedule")
	collect(err)
	s.exportRevenue, err = gauge("erg_export_revenue", "Export revenue of the current schedule")
	collect(err)
	s.socEnd, err = gauge("erg_battery_soc_end_kwh", "Forecast battery charge at the end of the horizon")
	collect(err)
	s.age, err = gauge("erg_schedule_age_seconds", "Time since the last successful schedule fetch")
	collect(err)
	s.stale, err = gauge("erg_schedule_stale", "1 when the schedule is older than the staleness threshold")
	collect(err)
	s.jobs, err = gauge("erg_scheduled_jobs", "Number of jobs with an assignment in the current schedule")
	collect(err)
	s.charge, err = gauge("erg_force_charge", "1 when the current slot charges the battery from the grid")
	collect(err)
	s.discharge, err = gauge("erg_force_discharge", "1 when the current slot discharges the battery to the grid")
	collect(err)
	s.jobRunTime, err = jobGauge("erg_job_run_time_seconds", "Scheduled run time per job over the horizon")
	collect(err)
	s.jobCost, err = jobGauge("erg_job_energy_cost", "Scheduled energy cost per job")
	collect(err)
	s.jobBenefit, err = jobGauge("erg_job_energy_benefit", "Scheduled benefit per job")
	collect(err)
	s.jobActive, err = jobGauge("erg_job_scheduled_now", "1 when the job is scheduled to run now")
	collect(err)
	s.actuations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erg_actuations_total",
		Help: "Device commands by job, target state and outcome",
	}, []string{"job", "state", "outcome"}))
	collect(err)
	s.fetches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erg_schedule_fetch_total",
		Help: "Schedule fetch cycles by outcome",
	}, []string{"outcome"}))
	collect(err)
	s.fetchLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erg_schedule_fetch_duration_seconds",
		Help:    "Duration of solver calls",
		Buckets: prometheus.DefBuckets,
	}))
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSummary sets the global gauges.
func (s *PromSink) RecordSummary(ev coremetrics.SummaryEvent) error {
	s.netValue.Set(ev.NetValue)
	s.totalCost.Set(ev.TotalCost)
	s.totalBenefit.Set(ev.TotalBenefit)
	s.exportRevenue.Set(ev.ExportRevenue)
	if ev.HasSoC {
		s.socEnd.Set(ev.SoCEndKWh)
	}
	if ev.HasSchedule {
		s.age.Set(ev.ScheduleAge.Seconds())
	}
	s.stale.Set(boolGauge(ev.Stale))
	s.jobs.Set(float64(ev.Jobs))
	s.charge.Set(boolGauge(ev.ForceCharge))
	s.discharge.Set(boolGauge(ev.ForceDischarge))
	return nil
}

// RecordJob sets the per-job gauges.
func (s *PromSink) RecordJob(ev coremetrics.JobEvent) error {
	s.jobRunTime.WithLabelValues(ev.JobID).Set(ev.RunTime.Seconds())
	s.jobCost.WithLabelValues(ev.JobID).Set(ev.Cost)
	s.jobBenefit.WithLabelValues(ev.JobID).Set(ev.Benefit)
	s.jobActive.WithLabelValues(ev.JobID).Set(boolGauge(ev.ScheduledNow))
	return nil
}

// RemoveJob deletes the per-job series.
func (s *PromSink) RemoveJob(jobID string) error {
	for _, v := range []*prometheus.GaugeVec{s.jobRunTime, s.jobCost, s.jobBenefit, s.jobActive} {
		v.DeleteLabelValues(jobID)
	}
	return nil
}

// RecordActuation counts a device command.
func (s *PromSink) RecordActuation(ev coremetrics.ActuationEvent) error {
	s.actuations.WithLabelValues(ev.JobID, onOff(ev.On), ev.Outcome).Inc()
	return nil
}

// RecordFetch counts a fetch cycle and observes the solver latency.
func (s *PromSink) RecordFetch(ev coremetrics.FetchEvent) error {
	s.fetches.WithLabelValues(ev.Outcome).Inc()
	if ev.Duration > 0 {
		s.fetchLatency.Observe(ev.Duration.Seconds())
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
