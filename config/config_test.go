package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/erg/core/model"
)

const sample = `solver:
  url: "http://solver.local:8000"
  token: "secret"
schedule:
  slot_duration: 30m
  horizon: 12h
  timezone: "Europe/Paris"
system:
  battery_capacity: 10
  inverter_power: 5
reconciler:
  command_grace: 2m
mqtt:
  broker: "tcp://localhost:1883"
  username: "user"
  soc_topic: "battery/soc"
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "nop"
tariffs:
  - name: "Off-peak"
    start: "23:00"
    end: "07:00"
    import_price: 0.12
sentry:
  environment: "test"
  traces_sample_rate: 0.2
jobs:
  - entity_id: "switch.pool_pump"
    job_type: "recurring"
    maximum_duration: "2h"
    time_window_start: "22:00"
    time_window_end: "06:00"
`

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sample))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"solver.url", cfg.Solver.URL, "http://solver.local:8000"},
		{"solver.token", cfg.Solver.Token, "secret"},
		{"solver.timeout", cfg.Solver.Timeout, 30 * time.Second},
		{"slot_duration", cfg.Schedule.SlotDuration, 30 * time.Minute},
		{"horizon", cfg.Schedule.Horizon, 12 * time.Hour},
		{"stale_after", cfg.Schedule.StaleAfter, 30 * time.Minute},
		{"timezone", loc.String(), "Europe/Paris"},
		{"battery_capacity", cfg.System.BatteryCapacity, 10.0},
		{"tick", cfg.Reconciler.Tick, 30 * time.Minute},
		{"command_grace", cfg.Reconciler.CommandGrace, 2 * time.Minute},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.state_prefix", cfg.MQTT.StatePrefix, "erg/state"},
		{"mqtt.soc_unit", cfg.MQTT.SoCUnit, "%"},
		{"http.addr", cfg.HTTP.Addr, ":8080"},
		{"metrics.prometheus_addr", cfg.Metrics.PrometheusAddr, ":9100"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"tariffs", len(cfg.Tariffs), 1},
		{"tariff.end", cfg.Tariffs[0].End, "07:00"},
		{"jobs", len(cfg.Jobs), 1},
		{"sentry.environment", cfg.Sentry.Environment, "test"},
		{"sentry.traces_sample_rate", cfg.Sentry.TracesSampleRate, 0.2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v, want %v", c.name, c.got, c.want)
		}
	}

	job, err := model.NewJob(cfg.Jobs[0])
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if job.MaximumDuration != 2*time.Hour {
		t.Errorf("maximum_duration = %s", job.MaximumDuration)
	}
	if got := job.Window.String(); got != "22:00-06:00" {
		t.Errorf("window = %s", got)
	}
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{
  "solver": {"url": "https://solver.example.com"},
  "mqtt": {"broker": "tcp://broker:1883", "soc_unit": "kWh"},
  "schedule": {"slot_duration": "5m"}
}`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Schedule.SlotDuration != 5*time.Minute || cfg.Reconciler.Tick != 5*time.Minute {
		t.Fatalf("slot/tick = %s/%s", cfg.Schedule.SlotDuration, cfg.Reconciler.Tick)
	}
	if cfg.MQTT.SoCUnit != "kWh" {
		t.Fatalf("soc_unit = %s", cfg.MQTT.SoCUnit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ERG_SOLVER__URL", "http://override:9000")
	t.Setenv("ERG_HTTP__ADDR", ":9999")
	cfg, err := Load(writeConfig(t, "config.yaml", sample))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Solver.URL != "http://override:9000" {
		t.Errorf("solver.url = %s", cfg.Solver.URL)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("http.addr = %s", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"missing url", `url: "http://solver.local:8000"`, `url: ""`, "Solver.URL"},
		{"bad url", `url: "http://solver.local:8000"`, `url: "not a url"`, "Solver.URL"},
		{"horizon below slot", "horizon: 12h", "horizon: 10m", "Schedule.Horizon"},
		{"uneven slot", "slot_duration: 30m", "slot_duration: 7m", "does not divide a day"},
		{"bad timezone", `timezone: "Europe/Paris"`, `timezone: "Mars/Olympus"`, "Mars/Olympus"},
		{"negative capacity", "battery_capacity: 10", "battery_capacity: -1", "System.BatteryCapacity"},
		{"bad tariff", `start: "23:00"`, `start: "24:30"`, "tariffs"},
		{"bad job", `maximum_duration: "2h"`, `maximum_duration: "0s"`, "job 1"},
		{"oauth without token url", `token: "secret"`, "token: \"secret\"\n  oauth:\n    client_id: \"erg\"", "Solver.OAuth.AuthURL"},
		{"bad sample rate", "traces_sample_rate: 0.2", "traces_sample_rate: 2", "TracesSampleRate"},
		{"missing broker", `broker: "tcp://localhost:1883"`, `broker: ""`, "mqtt.broker"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := strings.Replace(sample, c.from, c.to, 1)
			if data == sample {
				t.Fatalf("replacement %q not applied", c.from)
			}
			_, err := Load(writeConfig(t, "config.yaml", data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "")); err == nil {
		t.Fatal("expected error for .toml")
	}
}
