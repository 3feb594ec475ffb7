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
	"net/http"
	"os"
	"time"

	"github.com/marouanesouiri/stdx/xlog"
	"github.com/prometheus/client_golang/prometheus"
)

// driverConfig is the assembled configuration surface for a [RequestDriver],
// built up by applying a chain of [Option] values over sane defaults, the
// same pattern the dwaz Client constructor uses for its own options.
type driverConfig struct {
	httpClient *http.Client
	token      TokenStrategy
	logger     xlog.Logger
	userAgent  string

	maxRateLimitWait time.Duration
	maxRetries       int

	gcPollPeriod  time.Duration
	gcExpireAfter time.Duration

	backoffBase   float64
	backoffCap    time.Duration
	backoffJitter time.Duration

	metricsRegistry prometheus.Registerer
}

func defaultDriverConfig() *driverConfig {
	return &driverConfig{
		httpClient:       http.DefaultClient,
		logger:           xlog.NewTextLogger(os.Stdout, xlog.LogLevelInfoLevel),
		userAgent:        "ratekit (https://github.com/marouanesouiri/ratekit)",
		maxRateLimitWait: 10 * time.Second,
		maxRetries:       3,
		gcPollPeriod:     20 * time.Second,
		gcExpireAfter:    10 * time.Second,
		backoffBase:      1.85,
		backoffCap:       16 * time.Second,
		backoffJitter:    2 * time.Second,
	}
}

// Option configures a [RequestDriver] at construction time.
type Option func(*driverConfig)

// WithHTTPClient overrides the underlying transport. Defaults to
// [http.DefaultClient].
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *driverConfig) { cfg.httpClient = c }
}

// WithTokenStrategy sets how the Authorization header is resolved and
// refreshed after a 401.
func WithTokenStrategy(t TokenStrategy) Option {
	return func(cfg *driverConfig) { cfg.token = t }
}

// WithLogger sets the structured logger used for trace records and bucket
// drift warnings.
func WithLogger(l xlog.Logger) Option {
	return func(cfg *driverConfig) { cfg.logger = l }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cfg *driverConfig) { cfg.userAgent = ua }
}

// WithMaxRateLimitWait bounds how long any single request is willing to
// predict it would block on a rate limit before failing fast with a
// [RateLimitTooLongError].
func WithMaxRateLimitWait(d time.Duration) Option {
	return func(cfg *driverConfig) { cfg.maxRateLimitWait = d }
}

// WithMaxRetries bounds 5xx, 429 and connection-error retry attempts per
// call, all counted against one budget. The user-scope 429 anomaly has its
// own separate cap. Values above 5 are clamped to 5.
func WithMaxRetries(n int) Option {
	return func(cfg *driverConfig) {
		if n > 5 {
			n = 5
		}
		cfg.maxRetries = n
	}
}

// WithGC overrides the bucket-manager GC sweep's poll period and the idle
// duration a bucket survives past its window expiry before being purged.
func WithGC(pollPeriod, expireAfter time.Duration) Option {
	return func(cfg *driverConfig) {
		cfg.gcPollPeriod = pollPeriod
		cfg.gcExpireAfter = expireAfter
	}
}

// WithBackoff overrides the 5xx retry backoff's base, cap, and jitter.
func WithBackoff(base float64, cap, jitter time.Duration) Option {
	return func(cfg *driverConfig) {
		cfg.backoffBase = base
		cfg.backoffCap = cap
		cfg.backoffJitter = jitter
	}
}

// WithMetrics registers ratekit's Prometheus instrumentation against reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *driverConfig) { cfg.metricsRegistry = reg }
}
