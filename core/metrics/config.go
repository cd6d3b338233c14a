package metrics

import "github.com/kilianp07/erg/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr is where /metrics is served. Empty disables the
	// endpoint.
	PrometheusAddr string `json:"prometheus_addr"`
}
