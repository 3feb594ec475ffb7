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
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marouanesouiri/stdx/xlog"
)

// RestBucket is a WindowedLimiter bound to a route+major-params+auth
// identity. It carries the UNKNOWN placeholder state before the server
// reveals its real bucket hash, and layers the dynamic-parameter update
// logic (UpdateRateLimit/Resolve) that keeps period/limit/remaining in
// sync with what the server actually told us, on top of the generic
// windowed acquire/drain mechanics.
type RestBucket struct {
	*WindowedLimiter

	name          string
	compiledRoute *CompiledRoute
	globalLimiter *ManualLimiter
	maxWait       time.Duration
	logger        xlog.Logger

	// probe is the single-holder lock taken only while the bucket is still
	// unknown, so at most one request probes an unresolved route at a
	// time. Implemented as a one-slot channel per spec.md §9's guidance
	// for runtimes lacking a native single-holder async lock.
	probe      chan struct{}
	probeOwned atomic.Bool
}

func newRestBucket(route *CompiledRoute, global *ManualLimiter, maxWait time.Duration, logger xlog.Logger) *RestBucket {
	probe := make(chan struct{}, 1)
	probe <- struct{}{}
	return &RestBucket{
		WindowedLimiter: NewWindowedLimiter(1, time.Second),
		name:            unknownBucketHash,
		compiledRoute:   route,
		globalLimiter:   global,
		maxWait:         maxWait,
		logger:          logger,
		probe:           probe,
	}
}

func newResolvedRestBucket(hash string, route *CompiledRoute, global *ManualLimiter, maxWait time.Duration, logger xlog.Logger) *RestBucket {
	b := newRestBucket(route, global, maxWait, logger)
	b.name = hash
	return b
}

// Name returns the bucket hash, or the UNKNOWN placeholder if unresolved.
func (b *RestBucket) Name() string {
	b.Lock()
	defer b.Unlock()
	return b.name
}

// IsUnknown reports whether the server has not yet revealed a bucket hash
// for this route+auth identity.
func (b *RestBucket) IsUnknown() bool {
	b.Lock()
	defer b.Unlock()
	return strings.HasPrefix(b.name, unknownBucketHash)
}

// Acquire enters the bucket for the duration of one request:
//  1. If unknown, takes the single-holder probe lock. If, after taking it,
//     the bucket is still unknown, the caller is the sole in-flight probe
//     and is let through immediately — there is nothing to rate-limit yet.
//  2. Otherwise (or if the bucket resolved while we waited for the probe
//     lock), checks the predicted windowed wait against maxWait.
//  3. Takes a windowed permit.
//  4. Checks the global limiter's predicted wait against maxWait.
//  5. Waits on the global limiter.
//
// The caller must call Release exactly once after the request completes.
func (b *RestBucket) Acquire(ctx context.Context) error {
	if b.IsUnknown() {
		select {
		case <-b.probe:
			b.probeOwned.Store(true)
		case <-ctx.Done():
			return ctx.Err()
		}
		if b.IsUnknown() {
			return nil
		}
	}

	now := time.Now()
	b.Lock()
	if b.remaining == 0 && b.increaseAt.Sub(now) > b.maxWait {
		err := &RateLimitTooLongError{
			Route:         b.compiledRoute,
			RetryAfter:    b.increaseAt.Sub(now),
			MaxRetryAfter: b.maxWait,
			ResetAt:       b.increaseAt,
			Limit:         b.limit,
			Period:        b.period,
		}
		b.Unlock()
		return err
	}
	b.Unlock()

	if err := b.WindowedLimiter.Acquire(ctx); err != nil {
		return err
	}

	if resetAt := b.globalLimiter.ResetAt(); !resetAt.IsZero() {
		if wait := time.Until(resetAt); wait > b.maxWait {
			return &RateLimitTooLongError{
				Route:         b.compiledRoute,
				IsGlobal:      true,
				RetryAfter:    wait,
				MaxRetryAfter: b.maxWait,
				ResetAt:       resetAt,
			}
		}
	}

	return b.globalLimiter.Acquire(ctx)
}

// Release returns the single-holder probe lock if it is currently held;
// otherwise it is a no-op. Ownership is tracked per bucket, not per caller,
// so any caller's Release returns a held probe lock.
func (b *RestBucket) Release() {
	if b.probeOwned.CompareAndSwap(true, false) {
		b.probe <- struct{}{}
	}
}

// UpdateRateLimit folds freshly observed header values into the bucket's
// sliding-window parameters. See spec.md §4.4 for the exact adoption rule.
func (b *RestBucket) UpdateRateLimit(remaining, limit int, resetAt time.Time, resetAfter time.Duration) {
	if remaining == limit {
		// The server is still counting the request we just made as
		// in-flight; we've already accounted for it locally.
		return
	}

	slidePeriod := resetAfter / time.Duration(limit-remaining)
	nextIncreaseAt := resetAt.Add(-resetAfter).Add(slidePeriod)

	b.Lock()
	defer b.Unlock()

	if nextIncreaseAt.Before(b.increaseAt) {
		// Describes a past window; discard.
		return
	}

	if b.limit != limit {
		if b.limit > limit && b.logger != nil {
			b.logger.WithField("bucket", b.name).WithField("from", b.limit).WithField("to", limit).
				Warn("bucket decreased its limit")
		}
		b.limit = limit
		b.remaining = min(b.remaining, b.limit)
	}

	if b.outOfSync || remaining == limit-1 || math.Abs(float64(b.period-slidePeriod)) > float64(500*time.Millisecond) {
		b.outOfSync = false
		b.period = slidePeriod
		b.increaseAt = nextIncreaseAt
	}
}

// Resolve transitions an UNKNOWN bucket to its real hash, seeding its
// window parameters from the first response the server ever gave it. It
// is only legal to call on a bucket that is still unknown.
func (b *RestBucket) Resolve(hash string, remaining, limit int, resetAt time.Time, resetAfter time.Duration) error {
	if !b.IsUnknown() {
		return &ComponentStateError{Msg: "cannot resolve an already-known bucket"}
	}

	b.Lock()
	defer b.Unlock()
	b.name = hash
	if remaining == limit {
		// The server is still counting the request we just made as
		// in-flight; adopt the name but leave the freshly-seeded window
		// parameters (limit 1 / period 1s) as a conservative placeholder
		// until the next response carries real numbers.
		return nil
	}

	slidePeriod := resetAfter / time.Duration(limit-remaining)
	b.remaining = remaining
	b.limit = limit
	b.period = slidePeriod
	b.increaseAt = resetAt.Add(-resetAfter).Add(slidePeriod)
	b.outOfSync = false
	return nil
}
