// Package sink exports samples to external time series stores.
package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/czerwonk/ping_tracker/session"
)

// Sink receives every delivered sample.
type Sink interface {
	Send(ctx context.Context, target string, s session.Sample) error
	Close() error
}

// Influx writes samples as points of the "latency" measurement.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	labels   map[string]string
}

// NewInflux connects to an InfluxDB v2 server. labels are added as tags.
func NewInflux(url, token, org, bucket string, labels map[string]string) *Influx {
	client := influxdb2.NewClient(url, token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		labels:   labels,
	}
}

// Send implements Sink.
func (o *Influx) Send(ctx context.Context, target string, s session.Sample) error {
	if err := o.writeAPI.WritePoint(ctx, point(target, s, o.labels)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close implements Sink.
func (o *Influx) Close() error {
	o.client.Close()
	return nil
}

func point(target string, s session.Sample, labels map[string]string) *write.Point {
	p := influxdb2.NewPointWithMeasurement("latency").
		AddTag("target", target).
		SetTime(s.TakenAt.Truncate(time.Millisecond))
	for k, v := range labels {
		p.AddTag(k, v)
	}

	if ms, ok := s.LatencyMs(); ok {
		p.AddField("value", ms).AddField("lost", false)
	} else {
		p.AddField("lost", true)
	}

	return p
}
