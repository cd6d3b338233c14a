package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/erg/core/metrics"
	"github.com/kilianp07/erg/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving the points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes schedule projections to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client resources.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordSummary writes a schedule_summary point.
func (s *InfluxSink) RecordSummary(ev coremetrics.SummaryEvent) error {
	p := write.NewPointWithMeasurement("schedule_summary").
		AddField("net_value", round3(ev.NetValue)).
		AddField("total_cost", round3(ev.TotalCost)).
		AddField("total_benefit", round3(ev.TotalBenefit)).
		AddField("export_revenue", round3(ev.ExportRevenue)).
		AddField("stale", ev.Stale).
		AddField("jobs", ev.Jobs).
		AddField("force_charge", ev.ForceCharge).
		AddField("force_discharge", ev.ForceDischarge)
	if ev.HasSoC {
		p.AddField("soc_end_kwh", round3(ev.SoCEndKWh))
	}
	if ev.HasSchedule {
		p.AddField("age_s", round3(ev.ScheduleAge.Seconds()))
	}
	p.SetTime(ev.Time)
	return s.write(p)
}

// RecordJob writes a job_projection point.
func (s *InfluxSink) RecordJob(ev coremetrics.JobEvent) error {
	p := write.NewPointWithMeasurement("job_projection").
		AddTag("job", ev.JobID).
		AddField("run_time_s", round3(ev.RunTime.Seconds())).
		AddField("energy_cost", round3(ev.Cost)).
		AddField("energy_benefit", round3(ev.Benefit)).
		AddField("scheduled_now", ev.ScheduledNow).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordActuation writes an actuation point.
func (s *InfluxSink) RecordActuation(ev coremetrics.ActuationEvent) error {
	p := write.NewPointWithMeasurement("actuation").
		AddTag("job", ev.JobID).
		AddTag("state", onOff(ev.On)).
		AddTag("outcome", ev.Outcome).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordFetch writes a schedule_fetch point.
func (s *InfluxSink) RecordFetch(ev coremetrics.FetchEvent) error {
	p := write.NewPointWithMeasurement("schedule_fetch").
		AddTag("outcome", ev.Outcome).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		AddField("boxes", ev.Boxes).
		AddField("ineligible", ev.Ineligible).
		SetTime(ev.Time)
	return s.write(p)
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
