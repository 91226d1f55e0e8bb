// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transformDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "imagemanip",
		Name:      "transform_seconds",
		Help:      "Time taken for image transformations in seconds.",
	})
	transformErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imagemanip",
		Name:      "transform_errors_total",
		Help:      "Number of image transformations that failed.",
	})
	tokensRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imagemanip",
		Name:      "token_rejected_total",
		Help:      "Number of transform URLs with an invalid or forged token.",
	})
	originCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imagemanip",
		Name:      "origin_cache_hits_total",
		Help:      "Number of original images served from cache.",
	})
)

func init() {
	prometheus.MustRegister(transformDuration)
	prometheus.MustRegister(transformErrors)
	prometheus.MustRegister(tokensRejected)
	prometheus.MustRegister(originCacheHits)
}
