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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// maxAnomalyRetries caps the user-scope-429-with-Remaining<=0 "shared token"
// anomaly (spec.md §9's open question): the server occasionally reports a
// per-field 429 against a token shared with other clients. It is not
// counted against the normal retry budget, but it is capped independently
// so a persistently misbehaving shared token can't loop forever.
const maxAnomalyRetries = 3

// rawResponse is a decoded-headers, raw-body HTTP result. [Call] layers
// JSON decoding into a concrete type on top of this.
type rawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestDriver orchestrates one logical HTTP call end to end: header
// construction, bucket acquisition, transport I/O, rate-limit header
// parsing, and the retry/backoff/re-auth state machine.
type RequestDriver struct {
	cfg        *driverConfig
	buckets    *BucketManager
	metrics    *Metrics
	dispatcher dispatcher
}

// NewRequestDriver builds a driver and starts its BucketManager's GC sweep.
func NewRequestDriver(opts ...Option) (*RequestDriver, error) {
	cfg := defaultDriverConfig()
	for _, o := range opts {
		o(cfg)
	}

	metrics := NewMetrics(cfg.metricsRegistry)
	buckets := NewBucketManager(cfg.maxRateLimitWait, cfg.logger, metrics)
	if err := buckets.Start(cfg.gcPollPeriod, cfg.gcExpireAfter); err != nil {
		return nil, err
	}

	return &RequestDriver{
		cfg:        cfg,
		buckets:    buckets,
		metrics:    metrics,
		dispatcher: newPoolDispatcher(cfg.logger),
	}, nil
}

// Close stops the bucket manager's GC sweep, shuts down the async
// dispatcher, and cancels every pending waiter across every bucket and the
// global limiter.
func (d *RequestDriver) Close() error {
	d.dispatcher.shutdown()
	return d.buckets.Close()
}

// Do executes one logical call against route, retrying internally per
// spec.md §4.6's state machine. explicitAuth, if non-empty, overrides the
// driver's configured token strategy for this call only.
func (d *RequestDriver) Do(ctx context.Context, route *CompiledRoute, body BodyBuilder, auditReason, explicitAuth string) (*rawResponse, error) {
	requestID := uuid.NewString()
	start := time.Now()

	auth := explicitAuth
	reauthUsed := false
	anomalyRetries := 0
	retries := 0
	var backoff *Backoff

	for {
		if auth == "" && d.cfg.token != nil {
			t, err := d.cfg.token.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			auth = t
		}

		var bucket *RestBucket
		if route.RateLimited() || d.buckets.IsRouteLearnedRateLimited(route) {
			b, err := d.buckets.AcquireBucket(route, auth)
			if err != nil {
				return nil, err
			}
			bucket = b
			if err := bucket.Acquire(ctx); err != nil {
				return nil, err
			}
		} else if err := d.buckets.Global().Acquire(ctx); err != nil {
			return nil, err
		}
		release := func() {
			if bucket != nil {
				bucket.Release()
			}
		}

		var bodyBytes []byte
		var contentType string
		if body != nil {
			b, ct, err := body.Build()
			if err != nil {
				release()
				return nil, err
			}
			bodyBytes, contentType = b, ct
		}

		req, err := http.NewRequestWithContext(ctx, route.Method(), route.Path(), bytes.NewReader(bodyBytes))
		if err != nil {
			release()
			return nil, &TransportError{Method: route.Method(), URL: route.Path(), Cause: err}
		}
		req.Header.Set("User-Agent", d.cfg.userAgent)
		req.Header.Set("Accept", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		if auditReason != "" {
			req.Header.Set("X-Audit-Log-Reason", url.QueryEscape(auditReason))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := d.cfg.httpClient.Do(req)
		if err != nil {
			release()
			if retries >= d.cfg.maxRetries {
				return nil, &TransportError{Method: route.Method(), URL: route.Path(), Cause: err}
			}
			retries++
			d.metrics.IncRetry("transport")
			backoff = d.nextBackoff(backoff)
			if serr := sleepCtx(ctx, backoff.Next()); serr != nil {
				return nil, serr
			}
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		d.ingestRateLimitHeaders(route, auth, resp.Header)
		release()

		elapsed := time.Since(start)
		d.cfg.logger.WithFields(map[string]any{
			"request_id": requestID,
			"method":     route.Method(),
			"url":        route.Path(),
			"elapsed":    elapsed,
			"status":     resp.StatusCode,
		}).Debug("request completed")

		switch {
		case resp.StatusCode == http.StatusNoContent:
			d.metrics.ObserveRequest(route.String(), statusClass(resp.StatusCode), elapsed)
			return &rawResponse{StatusCode: resp.StatusCode, Header: resp.Header}, nil

		case resp.StatusCode/100 == 2:
			if !isJSONContentType(resp.Header.Get("Content-Type")) {
				return nil, &ProtocolError{Msg: "2xx response with non-JSON content type"}
			}
			d.metrics.ObserveRequest(route.String(), statusClass(resp.StatusCode), elapsed)
			return &rawResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			if rerr := d.handle429(ctx, route, resp.Header, respBody, &anomalyRetries, &retries); rerr != nil {
				return nil, rerr
			}
			continue

		case resp.StatusCode >= 500 && resp.StatusCode <= 504:
			if retries >= d.cfg.maxRetries {
				return nil, &StatusError{URL: route.Path(), Status: resp.StatusCode, Header: resp.Header, Body: respBody}
			}
			retries++
			d.metrics.IncRetry("5xx")
			backoff = d.nextBackoff(backoff)
			if serr := sleepCtx(ctx, backoff.Next()); serr != nil {
				return nil, serr
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			if d.cfg.token != nil && explicitAuth == "" && !reauthUsed {
				reauthUsed = true
				d.metrics.IncRetry("401")
				d.cfg.token.Invalidate(auth)
				auth = ""
				continue
			}
			return nil, &StatusError{URL: route.Path(), Status: resp.StatusCode, Header: resp.Header, Body: respBody}

		default:
			return nil, &StatusError{URL: route.Path(), Status: resp.StatusCode, Header: resp.Header, Body: respBody}
		}
	}
}

func (d *RequestDriver) nextBackoff(b *Backoff) *Backoff {
	if b != nil {
		return b
	}
	b, _ = NewBackoff(d.cfg.backoffBase, d.cfg.backoffCap, d.cfg.backoffJitter, 0)
	return b
}

// ingestRateLimitHeaders folds X-RateLimit-* headers into the bucket
// registry. Reset-After (a relative duration, anchored to time.Now() here)
// is used instead of the absolute, wall-clock Reset header, so bucket
// state never carries anything but monotonic-safe timestamps.
func (d *RequestDriver) ingestRateLimitHeaders(route *CompiledRoute, auth string, h http.Header) {
	hash := h.Get("X-RateLimit-Bucket")
	if hash == "" {
		return
	}
	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	resetAfterSecs, _ := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64)
	resetAfter := time.Duration(resetAfterSecs * float64(time.Second))
	resetAt := time.Now().Add(resetAfter)

	if !route.RateLimited() {
		d.cfg.logger.WithField("route", route.String()).Warn("route revealed a bucket hash despite declaring no rate limit; marking it rate-limited from now on")
	}

	if err := d.buckets.UpdateRateLimits(route, auth, hash, remaining, limit, resetAt, resetAfter); err != nil {
		d.cfg.logger.WithField("err", err.Error()).Warn("failed updating rate limit state")
	}
}

// handle429 implements the PARSE state's 429 branch. A nil return means
// the caller's loop should retry; a non-nil error fails the call.
func (d *RequestDriver) handle429(ctx context.Context, route *CompiledRoute, h http.Header, body []byte, anomalyRetries, retries *int) error {
	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
		Global     bool     `json:"global"`
		Message    string   `json:"message"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return &ProtocolError{Msg: "429 response missing retry_after: " + err.Error()}
	}
	if payload.RetryAfter == nil {
		return &ProtocolError{Msg: "429 response missing retry_after"}
	}
	retryAfter := time.Duration(*payload.RetryAfter * float64(time.Second))
	d.metrics.IncRetry("429")

	scope := h.Get("X-RateLimit-Scope")
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if scope == "user" && remaining <= 0 {
		*anomalyRetries++
		if *anomalyRetries > maxAnomalyRetries {
			return &StatusError{URL: route.Path(), Status: http.StatusTooManyRequests, Header: h, Body: body}
		}
		return nil
	}

	if *retries >= d.cfg.maxRetries {
		return &StatusError{URL: route.Path(), Status: http.StatusTooManyRequests, Header: h, Body: body}
	}
	*retries++

	if payload.Global {
		d.buckets.Throttle(retryAfter)
		return nil
	}

	if retryAfter > d.cfg.maxRateLimitWait {
		return &RateLimitTooLongError{
			Route:         route,
			RetryAfter:    retryAfter,
			MaxRetryAfter: d.cfg.maxRateLimitWait,
			ResetAt:       time.Now().Add(retryAfter),
		}
	}
	return sleepCtx(ctx, retryAfter)
}

// sleepCtx sleeps for d, or returns ctx's error if it's cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func isJSONContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
