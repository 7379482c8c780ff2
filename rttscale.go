// SPDX-License-Identifier: MIT

package main

import "github.com/prometheus/client_golang/prometheus"

type rttUnit int

const (
	rttInvalid rttUnit = iota
	rttInMills
	rttInSeconds
	rttBoth
)

var rttUnits = map[string]rttUnit{
	"ms":   rttInMills,
	"s":    rttInSeconds,
	"both": rttBoth,
}

func rttUnitFromString(s string) rttUnit {
	return rttUnits[s]
}

func (u rttUnit) millis() bool {
	return u == rttInMills || u == rttBoth
}

func (u rttUnit) seconds() bool {
	return u == rttInSeconds || u == rttBoth
}

// scaledMetrics exports a latency gauge in millis, seconds or both.
type scaledMetrics struct {
	millis  *prometheus.Desc
	seconds *prometheus.Desc
	unit    rttUnit
}

func newScaledDesc(name, help string, unit rttUnit, variableLabels []string) scaledMetrics {
	return scaledMetrics{
		unit:    unit,
		millis:  newDesc(name+"_ms", help+" in millis", variableLabels, nil),
		seconds: newDesc(name+"_seconds", help+" in seconds", variableLabels, nil),
	}
}

func (s scaledMetrics) Describe(ch chan<- *prometheus.Desc) {
	if s.unit.millis() {
		ch <- s.millis
	}
	if s.unit.seconds() {
		ch <- s.seconds
	}
}

// Collect emits latencyMs in the configured units. A nil latency (failed
// or missing probe) emits nothing.
func (s scaledMetrics) Collect(ch chan<- prometheus.Metric, latencyMs *int, labelValues ...string) {
	if latencyMs == nil {
		return
	}

	v := float64(*latencyMs)
	if s.unit.millis() {
		ch <- prometheus.MustNewConstMetric(s.millis, prometheus.GaugeValue, v, labelValues...)
	}
	if s.unit.seconds() {
		ch <- prometheus.MustNewConstMetric(s.seconds, prometheus.GaugeValue, v/1000, labelValues...)
	}
}
