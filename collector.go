package main

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/tracker"
)

const prefix = "ping_tracker_"

func newDesc(name, help string, variableLabels []string, constLabels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(prefix+name, help, variableLabels, constLabels)
}

type trackerCollector struct {
	tracker     *tracker.Tracker
	labelValues []string

	latencyDesc   scaledMetrics
	thresholdDesc *prometheus.Desc
	probesDesc    *prometheus.Desc
	failuresDesc  *prometheus.Desc
	alertsDesc    *prometheus.Desc
	discardedDesc *prometheus.Desc
	activeDesc    *prometheus.Desc
	samplesDesc   *prometheus.Desc
	storedDesc    *prometheus.Desc
	pendingDesc   *prometheus.Desc
}

func newTrackerCollector(t *tracker.Tracker, cl *customLabelSet, scale rttUnit) *trackerCollector {
	labelNames := append([]string{"target"}, cl.labelNames()...)

	return &trackerCollector{
		tracker:     t,
		labelValues: append([]string{t.Target()}, cl.labelValues()...),

		latencyDesc:   newScaledDesc("latency", "Latency of the most recent probe", scale, labelNames),
		thresholdDesc: newDesc("alert_threshold_ms", "Latency in millis above which an alert is raised", labelNames, nil),
		probesDesc:    newDesc("probes_total", "Number of completed probes", labelNames, nil),
		failuresDesc:  newDesc("probe_failures_total", "Number of failed probes", labelNames, nil),
		alertsDesc:    newDesc("alerts_total", "Number of raised alerts", labelNames, nil),
		discardedDesc: newDesc("discarded_samples_total", "Number of probe results arriving after their session ended", labelNames, nil),
		activeDesc:    newDesc("session_active", "1 while a session is being recorded", labelNames, nil),
		samplesDesc:   newDesc("session_samples", "Number of samples in the open session", labelNames, nil),
		storedDesc:    newDesc("stored_sessions", "Number of persisted sessions", labelNames, nil),
		pendingDesc:   newDesc("pending_sessions", "Number of closed sessions waiting to be persisted", labelNames, nil),
	}
}

func (c *trackerCollector) Describe(ch chan<- *prometheus.Desc) {
	c.latencyDesc.Describe(ch)
	ch <- c.thresholdDesc
	ch <- c.probesDesc
	ch <- c.failuresDesc
	ch <- c.alertsDesc
	ch <- c.discardedDesc
	ch <- c.activeDesc
	ch <- c.samplesDesc
	ch <- c.storedDesc
	ch <- c.pendingDesc
}

func (c *trackerCollector) Collect(ch chan<- prometheus.Metric) {
	l := c.labelValues
	st := c.tracker.Status()
	stats := c.tracker.Stats()

	c.latencyDesc.Collect(ch, st.Latency, l...)

	ch <- prometheus.MustNewConstMetric(c.thresholdDesc, prometheus.GaugeValue, float64(st.Threshold), l...)
	ch <- prometheus.MustNewConstMetric(c.probesDesc, prometheus.CounterValue, float64(stats.Probes), l...)
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(stats.ProbeFailures), l...)
	ch <- prometheus.MustNewConstMetric(c.alertsDesc, prometheus.CounterValue, float64(stats.Alerts), l...)
	ch <- prometheus.MustNewConstMetric(c.discardedDesc, prometheus.CounterValue, float64(stats.Discarded), l...)

	active := 0.0
	if st.Running {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, active, l...)
	ch <- prometheus.MustNewConstMetric(c.samplesDesc, prometheus.GaugeValue, float64(len(st.Samples)), l...)
	ch <- prometheus.MustNewConstMetric(c.pendingDesc, prometheus.GaugeValue, float64(len(c.tracker.Pending())), l...)

	stored, err := c.tracker.StoredCount()
	if err != nil {
		log.Errorf("could not count stored sessions: %v", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.storedDesc, prometheus.GaugeValue, float64(stored), l...)
}
