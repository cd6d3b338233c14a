package metrics_test

import (
	"errors"
	"testing"

	"github.com/kilianp07/erg/core/factory"
	metrics "github.com/kilianp07/erg/core/metrics"
	_ "github.com/kilianp07/erg/infra/metrics"
)

/*
TestMetricsFactory_Builtins verifies registration via infra/metrics/factory.go.

	Cases:
	- instantiate builtin nop sink
	- unknown type returns error
*/
func TestMetricsFactory_Builtins(t *testing.T) {
	s, err := metrics.NewSink([]factory.ModuleConfig{{Type: "nop"}})
	if err != nil {
		t.Fatalf("create nop: %v", err)
	}
	if s == nil {
		t.Fatal("expected sink instance")
	}
	if _, err := metrics.NewSink([]factory.ModuleConfig{{Type: "missing"}}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

/*
TestNewSink_Multi validates NewSink behavior with zero, one, and multiple configs.
Cases:
  - no config -> NopSink
  - two configs -> MultiSink with two sub-sinks
*/
func TestNewSink_Multi(t *testing.T) {
	s, err := metrics.NewSink(nil)
	if err != nil {
		t.Fatalf("create nop default: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}

	cfgs := []factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}}
	s, err = metrics.NewSink(cfgs)
	if err != nil {
		t.Fatalf("create multi: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink, got %T", s)
	}
	if len(m.Sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(m.Sinks))
	}
}

type countingSink struct {
	summaries, fetches int
	err                error
}

func (c *countingSink) RecordSummary(metrics.SummaryEvent) error { c.summaries++; return c.err }
func (c *countingSink) RecordFetch(metrics.FetchEvent) error     { c.fetches++; return nil }

func TestMultiSinkForwardsToAll(t *testing.T) {
	boom := errors.New("boom")
	s1 := &countingSink{err: boom}
	s2 := &countingSink{}
	m := metrics.NewMultiSink(s1, s2, metrics.NopSink{})
	if err := m.RecordSummary(metrics.SummaryEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := m.RecordFetch(metrics.FetchEvent{Outcome: metrics.FetchSuccess}); err != nil {
		t.Fatalf("record fetch: %v", err)
	}
	if err := m.RecordActuation(metrics.ActuationEvent{}); err != nil {
		t.Fatalf("record actuation: %v", err)
	}
	if s1.summaries != 1 || s2.summaries != 1 || s2.fetches != 1 {
		t.Fatalf("events not forwarded: %+v %+v", s1, s2)
	}
}

func TestRecordersFallback(t *testing.T) {
	jr, ar, fr := metrics.Recorders(&countingSink{})
	if _, ok := jr.(metrics.NopSink); !ok {
		t.Fatalf("expected nop job recorder, got %T", jr)
	}
	if _, ok := ar.(metrics.NopSink); !ok {
		t.Fatalf("expected nop actuation recorder, got %T", ar)
	}
	if _, ok := fr.(*countingSink); !ok {
		t.Fatalf("expected counting fetch recorder, got %T", fr)
	}
}
