package session

// AlertPolicy decides whether a sample warrants a notification.
type AlertPolicy struct{}

// Evaluate reports whether s has a latency strictly above thresholdMs.
// Failed probes never alert.
func (AlertPolicy) Evaluate(s Sample, thresholdMs int) bool {
	ms, ok := s.LatencyMs()
	return ok && ms > thresholdMs
}
