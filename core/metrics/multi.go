package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink receives the
// event; the errors are joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSummary forwards the summary to all sinks.
func (m *MultiSink) RecordSummary(ev SummaryEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordSummary(ev))
	}
	return errors.Join(errs...)
}

// RecordJob forwards job projections to the sinks supporting them.
func (m *MultiSink) RecordJob(ev JobEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(JobRecorder); ok {
			errs = append(errs, r.RecordJob(ev))
		}
	}
	return errors.Join(errs...)
}

// RemoveJob forwards job removal to the sinks supporting it.
func (m *MultiSink) RemoveJob(jobID string) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(JobRemover); ok {
			errs = append(errs, r.RemoveJob(jobID))
		}
	}
	return errors.Join(errs...)
}

// RecordActuation forwards actuation events.
func (m *MultiSink) RecordActuation(ev ActuationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ActuationRecorder); ok {
			errs = append(errs, r.RecordActuation(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordFetch forwards fetch events.
func (m *MultiSink) RecordFetch(ev FetchEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(FetchRecorder); ok {
			errs = append(errs, r.RecordFetch(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks holding resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
