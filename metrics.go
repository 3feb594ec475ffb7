/************************************************************************************
 *
 * ratekit, A sliding-window rate-limit coordination core for chat-platform REST APIs
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ratekit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the optional Prometheus instrumentation for a BucketManager
// and RequestDriver pair. A nil *Metrics is valid everywhere it's used:
// every method is a no-op on a nil receiver, so correctness never depends on
// a registry being supplied.
type Metrics struct {
	bucketsActive   prometheus.Gauge
	bucketsSurvival prometheus.Gauge
	bucketsDead     prometheus.Gauge
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
}

// NewMetrics registers ratekit's instrumentation against reg and returns the
// handle. NewMetrics(nil) returns nil, the no-op handle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		bucketsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratekit_buckets_active",
			Help: "Buckets with at least one queued waiter.",
		}),
		bucketsSurvival: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratekit_buckets_survival",
			Help: "Idle buckets kept alive pending expiry.",
		}),
		bucketsDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratekit_buckets_dead",
			Help: "Buckets purged on the most recent GC pass.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratekit_request_duration_seconds",
			Help:    "End-to-end RequestDriver.Do latency, including queueing and retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status_class"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekit_retries_total",
			Help: "Retries issued by RequestDriver, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.bucketsActive, m.bucketsSurvival, m.bucketsDead, m.requestDuration, m.retries)
	return m
}

// SetBucketCounts reports the outcome of one GC sweep.
func (m *Metrics) SetBucketCounts(active, survival, dead int) {
	if m == nil {
		return
	}
	m.bucketsActive.Set(float64(active))
	m.bucketsSurvival.Set(float64(survival))
	m.bucketsDead.Set(float64(dead))
}

// ObserveRequest records one completed call's wall-clock duration.
func (m *Metrics) ObserveRequest(route string, statusClass string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, statusClass).Observe(d.Seconds())
}

// IncRetry records one retry attempt, labeled by its cause.
func (m *Metrics) IncRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}
