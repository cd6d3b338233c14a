package metrics

import "github.com/kilianp07/erg/core/factory"

var sinkRegistry = factory.NewRegistry[Sink]()

// RegisterSink adds a metrics sink factory identified by name.
func RegisterSink(name string, f factory.Factory[Sink]) error {
	return sinkRegistry.Register(name, f)
}

// NewSink creates a Sink from the provided configuration.
func NewSink(cfgs []factory.ModuleConfig) (Sink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return sinkRegistry.Create(cfgs[0])
	}
	sinks := make([]Sink, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}

// Recorders resolves the optional recorder interfaces of s, substituting
// NopSink for the ones it lacks.
func Recorders(s Sink) (JobRecorder, ActuationRecorder, FetchRecorder) {
	var (
		jr JobRecorder       = NopSink{}
		ar ActuationRecorder = NopSink{}
		fr FetchRecorder     = NopSink{}
	)
	if r, ok := s.(JobRecorder); ok {
		jr = r
	}
	if r, ok := s.(ActuationRecorder); ok {
		ar = r
	}
	if r, ok := s.(FetchRecorder); ok {
		fr = r
	}
	return jr, ar, fr
}
