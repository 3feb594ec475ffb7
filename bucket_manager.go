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
	"sync"
	"time"

	"github.com/marouanesouiri/stdx/xlog"
)

// BucketManager owns the two registry maps that give buckets their
// identity: the learned route-fingerprint → bucket-hash map, and the
// real-bucket-key → live [RestBucket] map. A single mutex guards both; it
// is only ever held across map reads/writes, never across a channel wait
// or network call, so it never serializes actual request traffic.
type BucketManager struct {
	mu sync.Mutex

	routeHashes map[uint64]string
	buckets     map[string]*RestBucket

	global  *ManualLimiter
	maxWait time.Duration
	logger  xlog.Logger
	metrics *Metrics

	started bool
	closed  bool
	gcStop  chan struct{}
}

// NewBucketManager constructs an unstarted manager. maxWait bounds how long
// any single Acquire is willing to predict it would block before failing
// with a [RateLimitTooLongError] instead.
func NewBucketManager(maxWait time.Duration, logger xlog.Logger, metrics *Metrics) *BucketManager {
	return &BucketManager{
		routeHashes: make(map[uint64]string),
		buckets:     make(map[string]*RestBucket),
		global:      NewManualLimiter(),
		maxWait:     maxWait,
		logger:      logger,
		metrics:     metrics,
	}
}

// Global returns the process-wide limiter used for server-wide 429s.
func (m *BucketManager) Global() *ManualLimiter { return m.global }

// Start spins up the background GC sweep. It fails if already started.
func (m *BucketManager) Start(pollPeriod, expireAfter time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return &ComponentStateError{Msg: "bucket manager already started"}
	}
	m.started = true
	m.gcStop = make(chan struct{})
	go m.gc(pollPeriod, expireAfter)
	return nil
}

// Close stops the GC sweep, cancels every queued waiter across every
// bucket and the global limiter, and clears the registries. It fails if
// the manager was never started, or was already closed.
func (m *BucketManager) Close() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return &ComponentStateError{Msg: "bucket manager not started"}
	}
	if m.closed {
		m.mu.Unlock()
		return &ComponentStateError{Msg: "bucket manager already closed"}
	}
	m.closed = true
	close(m.gcStop)
	for _, b := range m.buckets {
		b.Close()
	}
	m.buckets = nil
	m.routeHashes = nil
	m.mu.Unlock()

	m.global.Close()
	return nil
}

// Throttle forwards a server-wide 429's retry-after to the global limiter.
func (m *BucketManager) Throttle(retryAfter time.Duration) {
	m.global.Throttle(retryAfter)
}

// AcquireBucket returns the live bucket for route+auth, creating it (in
// the UNKNOWN state, or pre-seeded with a previously learned hash) if this
// is the first time this identity has been seen. The returned bucket is
// not yet acquired; the caller must call Acquire/Release around its
// request. It fails with a [ComponentStateError] if the manager is not
// currently started, mirroring hikari's acquire_bucket raising
// ComponentStateConflictError when its gc task is absent.
func (m *BucketManager) AcquireBucket(route *CompiledRoute, auth string) (*RestBucket, error) {
	authFP := fingerprintAuth(auth)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return nil, &ComponentStateError{Msg: "bucket manager is not alive"}
	}

	hash, known := m.routeHashes[route.fingerprint()]
	var key string
	if known {
		key = route.realBucketKey(hash, authFP)
	} else {
		key = route.unknownBucketKey(authFP)
	}

	if b, ok := m.buckets[key]; ok {
		return b, nil
	}

	var b *RestBucket
	if known {
		b = newResolvedRestBucket(hash, route, m.global, m.maxWait, m.logger)
	} else {
		b = newRestBucket(route, m.global, m.maxWait, m.logger)
	}
	m.buckets[key] = b
	return b, nil
}

// IsRouteLearnedRateLimited reports whether the manager has ever observed
// a bucket hash for route's fingerprint, regardless of what the route
// statically declared. Spec.md §4.6's PARSE state uses this to keep
// enforcing a route's real limit after the server reveals one for a route
// that had declared none.
func (m *BucketManager) IsRouteLearnedRateLimited(route *CompiledRoute) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.routeHashes == nil {
		return false
	}
	_, ok := m.routeHashes[route.fingerprint()]
	return ok
}

// UpdateRateLimits folds a response's rate-limit headers into the owning
// bucket, learning the route's bucket hash and resolving/moving an UNKNOWN
// bucket into its real registry slot the first time it's seen. It fails
// with a [ComponentStateError] if the manager is not currently started.
func (m *BucketManager) UpdateRateLimits(route *CompiledRoute, auth string, bucketHash string, remaining, limit int, resetAt time.Time, resetAfter time.Duration) error {
	authFP := fingerprintAuth(auth)

	m.mu.Lock()
	if !m.started || m.closed {
		m.mu.Unlock()
		return &ComponentStateError{Msg: "bucket manager is not alive"}
	}
	m.routeHashes[route.fingerprint()] = bucketHash
	realKey := route.realBucketKey(bucketHash, authFP)

	if b, ok := m.buckets[realKey]; ok {
		m.mu.Unlock()
		b.UpdateRateLimit(remaining, limit, resetAt, resetAfter)
		return nil
	}

	unknownKey := route.unknownBucketKey(authFP)
	if b, ok := m.buckets[unknownKey]; ok {
		delete(m.buckets, unknownKey)
		m.buckets[realKey] = b
		m.mu.Unlock()
		return b.Resolve(bucketHash, remaining, limit, resetAt, resetAfter)
	}

	b := newRestBucket(route, m.global, m.maxWait, m.logger)
	m.buckets[realKey] = b
	m.mu.Unlock()
	return b.Resolve(bucketHash, remaining, limit, resetAt, resetAfter)
}

func (m *BucketManager) gc(pollPeriod, expireAfter time.Duration) {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.gcStop:
			return
		case <-ticker.C:
			m.purgeStale(expireAfter)
		}
	}
}

// purgeStale drops any bucket with an empty queue whose window expired
// more than expireAfter ago, and reports active/survival/dead counts.
func (m *BucketManager) purgeStale(expireAfter time.Duration) {
	now := time.Now()

	m.mu.Lock()
	var active, survival, dead int
	for key, b := range m.buckets {
		if !b.IsEmpty() {
			active++
			continue
		}
		if b.ResetAt().Add(expireAfter).Before(now) {
			delete(m.buckets, key)
			b.Close()
			dead++
			continue
		}
		survival++
	}
	m.mu.Unlock()

	m.metrics.SetBucketCounts(active, survival, dead)
}
