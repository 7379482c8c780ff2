// Package probe measures the round trip time to a single remote target.
package probe

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Prober performs one latency measurement against a fixed target.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
	Target() string
}

// Error is returned when a single probe could not complete.
type Error struct {
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s failed: %v", e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options are passed to prober factories. Fields irrelevant to a prober
// type are ignored.
type Options struct {
	Target      string
	Timeout     time.Duration
	PayloadSize uint16
	Resolver    string
}

var defaultTargets = map[string]string{
	"http": DefaultTarget,
	"icmp": "1.1.1.1",
	"dns":  "www.google.com",
}

// DefaultTargetFor returns the target probed by typ when none is
// configured. Types without a sensible default return "".
func DefaultTargetFor(typ string) string {
	return defaultTargets[typ]
}

// Factory builds a Prober from options.
type Factory func(Options) (Prober, error)

var factories = make(map[string]Factory)

// Register makes a prober type available to New.
func Register(typ string, f Factory) {
	factories[typ] = f
}

// New builds a prober of the given type.
func New(typ string, opts Options) (Prober, error) {
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("unknown probe type: %s", typ)
	}
	if opts.Target == "" {
		return nil, fmt.Errorf("%s probe needs a target", typ)
	}
	return f(opts)
}

// Types lists the registered prober types.
func Types() []string {
	res := make([]string, 0, len(factories))
	for typ := range factories {
		res = append(res, typ)
	}
	sort.Strings(res)
	return res
}

// Millis converts a round trip time to whole milliseconds.
func Millis(d time.Duration) int {
	return int(d.Round(time.Millisecond) / time.Millisecond)
}
