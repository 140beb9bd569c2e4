// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package metrics

import "github.com/prometheus/client_golang/prometheus"

type HistogramVec struct {
	histograms *prometheus.HistogramVec
}

func NewHistogramVec(metricsName, help string, labels []string, opts ...OptsFunc) *HistogramVec {
	opt := &mOpts{
		name: metricsName,
		help: help,
	}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	histogramOpt := opt.GetHistogramOpts()
	cc := prometheus.NewHistogramVec(histogramOpt, labels)
	prometheus.MustRegister(cc)

	return &HistogramVec{
		histograms: cc,
	}
}

func (self *HistogramVec) Observe(v float64, labels ...string) {
	self.histograms.WithLabelValues(labels...).Observe(v)
}
