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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsNilRegistryReturnsNil(t *testing.T) {
	if m := NewMetrics(nil); m != nil {
		t.Fatalf("NewMetrics(nil) = %v, want nil", m)
	}
}

func TestNilMetricsMethodsAreNoops(t *testing.T) {
	var m *Metrics
	m.SetBucketCounts(1, 2, 3)
	m.ObserveRequest("GET /x", "2xx", time.Millisecond)
	m.IncRetry("429")
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	if m == nil {
		t.Fatal("NewMetrics(reg) = nil, want a handle")
	}

	m.SetBucketCounts(3, 2, 1)
	m.ObserveRequest("GET /x", "2xx", 10*time.Millisecond)
	m.IncRetry("5xx")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ratekit_buckets_active",
		"ratekit_buckets_survival",
		"ratekit_buckets_dead",
		"ratekit_request_duration_seconds",
		"ratekit_retries_total",
	} {
		if !names[want] {
			t.Errorf("registry missing collector %q", want)
		}
	}
}
