// Package metrics registers prometheus metrics under the negsync namespace
// and serves or pushes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric of the application.
const Namespace = "negsync"

func opts(name, subsystem, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}
}

// NewCounter registers a counter vector.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts(opts(name, subsystem, help)), labels)
}

// NewSimpleCounter registers a counter without labels.
func NewSimpleCounter(name, subsystem, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts(opts(name, subsystem, help)))
}

// NewSimpleGauge registers a gauge without labels.
func NewSimpleGauge(name, subsystem, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts(opts(name, subsystem, help)))
}

// NewHistogramWithBuckets registers a histogram vector with the buckets.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	o := opts(name, subsystem, help)
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace,
		Subsystem: o.Subsystem,
		Name:      o.Name,
		Help:      o.Help,
		Buckets:   buckets,
	}, labels)
}
