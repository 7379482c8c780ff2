package main

import "github.com/czerwonk/ping_tracker/config"

// customLabelSet holds the user supplied labels of the probed target.
type customLabelSet struct {
	names  []string
	values []string
}

func newCustomLabelSet(t config.TargetConfig) *customLabelSet {
	cl := &customLabelSet{names: t.LabelNames()}

	cl.values = make([]string, len(cl.names))
	for i, name := range cl.names {
		cl.values[i] = t.Labels[name]
	}

	return cl
}

func (cl *customLabelSet) labelNames() []string {
	return cl.names
}

func (cl *customLabelSet) labelValues() []string {
	return cl.values
}
