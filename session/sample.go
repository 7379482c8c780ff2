package session

import "time"

// Sample is one timestamped latency measurement. A nil Latency marks a
// probe that failed to complete.
type Sample struct {
	TakenAt time.Time
	Latency *int
}

// NewSample returns a successful sample taken at t.
func NewSample(t time.Time, latencyMs int) Sample {
	return Sample{TakenAt: t.Round(0), Latency: &latencyMs}
}

// FailedSample returns a sample for a probe that did not complete.
func FailedSample(t time.Time) Sample {
	return Sample{TakenAt: t.Round(0)}
}

// Failed reports whether the probe behind s failed.
func (s Sample) Failed() bool {
	return s.Latency == nil
}

// LatencyMs returns the measured latency and whether one is present.
func (s Sample) LatencyMs() (int, bool) {
	if s.Latency == nil {
		return 0, false
	}
	return *s.Latency, true
}

// Session is a closed, immutable sequence of samples in arrival order.
type Session struct {
	ID      string
	Samples []Sample
}

// Len returns the number of samples.
func (s *Session) Len() int {
	return len(s.Samples)
}
