// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package metrics

import "github.com/prometheus/client_golang/prometheus"

const defaultNamespace = "spax"

type mOpts struct {
	name          string
	help          string
	namespace     *string
	constLabels   map[string]string
	withoutSuffix bool
	buckets       []float64
}

type OptsFunc func(*mOpts)

func WithNamespace(namespace string) OptsFunc {
	return func(o *mOpts) {
		o.namespace = &namespace
	}
}

func WithLabels(labels map[string]string) OptsFunc {
	return func(o *mOpts) {
		o.constLabels = labels
	}
}

func WithoutSuffix() OptsFunc {
	return func(o *mOpts) {
		o.withoutSuffix = true
	}
}

func WithBuckets(buckets []float64) OptsFunc {
	return func(o *mOpts) {
		o.buckets = buckets
	}
}

func (o *mOpts) getNamespace() string {
	if o.namespace != nil {
		return *o.namespace
	}
	return defaultNamespace
}

func (o *mOpts) suffixed(suffix string) string {
	if o.withoutSuffix {
		return o.name
	}
	return o.name + suffix
}

func (o *mOpts) GetCounterOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   o.getNamespace(),
		Name:        o.suffixed("_c"),
		Help:        o.help + " (counters)",
		ConstLabels: o.constLabels,
	}
}

func (o *mOpts) GetGaugeOpts() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   o.getNamespace(),
		Name:        o.suffixed("_g"),
		Help:        o.help + " (gauges)",
		ConstLabels: o.constLabels,
	}
}

func (o *mOpts) GetHistogramOpts() prometheus.HistogramOpts {
	buckets := o.buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   o.getNamespace(),
		Name:        o.suffixed("_h"),
		Help:        o.help + " (histograms)",
		ConstLabels: o.constLabels,
		Buckets:     buckets,
	}
}
