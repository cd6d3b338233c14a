// Package metrics defines the sinks receiving schedule projections, device
// actuations and fetch outcomes. Sinks like PromSink and InfluxSink live in
// infra/metrics and register themselves with RegisterSink; NewSink returns a
// MultiSink automatically when several sinks are configured.
package metrics
