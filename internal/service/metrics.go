package service

import (
	"sort"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/joeblew999/geocluster/internal/cluster"
)

// Metric names.
const (
	MetricTileHits     = "tiles.cache.hits"
	MetricTileMisses   = "tiles.cache.misses"
	MetricTileRendered = "tiles.rendered"
	MetricTileEmpty    = "tiles.empty"
	MetricBuilds       = "datasets.builds"
)

// Metrics collects build phase timers and tile counters in a go-metrics
// registry.
type Metrics struct {
	registry gometrics.Registry
}

// NewMetrics creates metrics backed by a private registry.
func NewMetrics() *Metrics {
	return &Metrics{registry: gometrics.NewRegistry()}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() gometrics.Registry {
	return m.registry
}

// Inc increments the named counter.
func (m *Metrics) Inc(name string) {
	gometrics.GetOrRegisterCounter(name, m.registry).Inc(1)
}

// Observer returns a build observer timing every phase of dataset id as
// "build.<id>.<phase>".
func (m *Metrics) Observer(id string) cluster.Observer {
	return metricsObserver{m: m, prefix: "build." + id + "."}
}

type metricsObserver struct {
	m      *Metrics
	prefix string
}

func (o metricsObserver) Start(string) {}

func (o metricsObserver) Stop(phase string, elapsed time.Duration, _ string) {
	gometrics.GetOrRegisterTimer(o.prefix+phase, o.m.registry).Update(elapsed)
}

// MetricValue is a point-in-time reading of one metric.
type MetricValue struct {
	Name   string  `json:"name" doc:"Metric name"`
	Type   string  `json:"type" doc:"counter, gauge or timer"`
	Count  int64   `json:"count" doc:"Counter value or number of timed events"`
	MeanMs float64 `json:"meanMs,omitempty" doc:"Mean duration in milliseconds, timers only"`
	MaxMs  float64 `json:"maxMs,omitempty" doc:"Max duration in milliseconds, timers only"`
}

// Snapshot returns all metrics sorted by name.
func (m *Metrics) Snapshot() []MetricValue {
	out := []MetricValue{}
	m.registry.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Counter:
			out = append(out, MetricValue{Name: name, Type: "counter", Count: metric.Count()})
		case gometrics.Gauge:
			out = append(out, MetricValue{Name: name, Type: "gauge", Count: metric.Value()})
		case gometrics.Timer:
			out = append(out, MetricValue{
				Name:   name,
				Type:   "timer",
				Count:  metric.Count(),
				MeanMs: metric.Mean() / float64(time.Millisecond),
				MaxMs:  float64(metric.Max()) / float64(time.Millisecond),
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
