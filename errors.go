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
	"fmt"
	"net/http"
	"time"
)

// RateLimitTooLongError is returned when the predicted wait before a
// request could be sent exceeds the configured ceiling (see
// [WithMaxRateLimitWait]).
type RateLimitTooLongError struct {
	Route         *CompiledRoute
	IsGlobal      bool
	RetryAfter    time.Duration
	MaxRetryAfter time.Duration
	ResetAt       time.Time
	Limit         int
	Period        time.Duration
}

func (e *RateLimitTooLongError) Error() string {
	if e.IsGlobal {
		return fmt.Sprintf(
			"ratekit: global rate limit would require waiting %s, which exceeds the configured max of %s",
			e.RetryAfter, e.MaxRetryAfter,
		)
	}
	return fmt.Sprintf(
		"ratekit: route %s would require waiting %s (limit=%d, period=%s), which exceeds the configured max of %s",
		e.Route, e.RetryAfter, e.Limit, e.Period, e.MaxRetryAfter,
	)
}

// TransportError wraps a connection failure or timeout surfaced after the
// retry budget was exhausted. It is also returned, without any retry, when
// the HTTP request cannot be constructed.
type TransportError struct {
	Method, URL string
	Cause       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ratekit: transport error for %s %s: %v", e.Method, e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// StatusError is a non-retried 4xx/5xx HTTP response.
type StatusError struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ratekit: request to %s failed with status %d: %s", e.URL, e.Status, truncate(e.Body, 256))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ProtocolError is a response that violated an expectation the driver
// places on the server (e.g. 2xx without JSON when JSON was required, or a
// 429 body missing retry_after).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "ratekit: protocol error: " + e.Msg }

// ComponentStateError is returned by BucketManager's lifecycle and
// per-request methods when called while the manager is already, or is not
// yet, alive.
type ComponentStateError struct {
	Msg string
}

func (e *ComponentStateError) Error() string { return "ratekit: " + e.Msg }
