package config

import "sort"

// TargetConfig is the single endpoint the tracker probes. It is written
// either as a plain string or as a one-entry map from address to labels.
type TargetConfig struct {
	Addr   string
	Labels map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (t *TargetConfig) UnmarshalYAML(unmashal func(interface{}) error) error {
	var s string
	if err := unmashal(&s); err == nil {
		t.Addr = s
		return nil
	}

	var x map[string]map[string]string
	if err := unmashal(&x); err != nil {
		return err
	}

	for addr, l := range x {
		t.Addr = addr
		t.Labels = l
	}

	return nil
}

// MarshalYAML implements yaml.Marshaler interface.
func (t TargetConfig) MarshalYAML() (interface{}, error) {
	if len(t.Labels) == 0 {
		return t.Addr, nil
	}

	return map[string]map[string]string{t.Addr: t.Labels}, nil
}

// LabelNames returns the custom label names in a stable order.
func (t TargetConfig) LabelNames() []string {
	names := make([]string, 0, len(t.Labels))
	for name := range t.Labels {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
