package config

import (
	"fmt"
	"io"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config represents configuration for the tracker
type Config struct {
	Target TargetConfig `yaml:"target"`

	Probe struct {
		Type     string   `yaml:"type"`
		Interval duration `yaml:"interval"`
		Timeout  duration `yaml:"timeout"`
		Size     uint16   `yaml:"payload-size"`
		Resolver string   `yaml:"resolver"`
	} `yaml:"probe"`

	Alert struct {
		Threshold *int     `yaml:"threshold-ms"`
		Notifier  string   `yaml:"notifier"`
		Command   []string `yaml:"command"`
	} `yaml:"alert"`

	Session struct {
		RecordFailures *bool `yaml:"record-failures"`
	} `yaml:"session"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	InfluxDB struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org"`
		Bucket string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// RecordsFailures reports whether failed probes are appended to the session
// as samples without latency. Defaults to true.
func (c *Config) RecordsFailures() bool {
	if c.Session.RecordFailures == nil {
		return true
	}
	return *c.Session.RecordFailures
}

// AlertThreshold returns the alert threshold in millis and whether it is
// set. A threshold of 0 alerts on every successful probe.
func (c *Config) AlertThreshold() (int, bool) {
	if c.Alert.Threshold == nil {
		return 0, false
	}
	return *c.Alert.Threshold, true
}

type duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler interface.
func (d *duration) UnmarshalYAML(unmashal func(interface{}) error) error {
	var s string
	if err := unmashal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(dur)
	return nil
}

// Duration is a convenience getter.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Set updates the underlying duration.
func (d *duration) Set(dur time.Duration) {
	*d = duration(dur)
}

// FromYAML reads YAML from reader and unmarshals it to Config
func FromYAML(r io.Reader) (*Config, error) {
	c := &Config{}
	err := yaml.NewDecoder(r).Decode(c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FromFile opens path and parses it with FromYAML.
func FromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load config file: %w", err)
	}
	defer f.Close()

	return FromYAML(f)
}
