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
	"math"
	"math/rand"
	"time"
)

// Backoff is a lazy, infinite, resettable exponential-backoff sequence:
// each call to Next returns min(base^i, cap) + U(0, jitter), where i starts
// at the configured initial increment and stops advancing once the
// uncapped value would exceed cap.
//
// Jitter is added, not multiplied, so a zero jitter strictly disables it.
// Jitter is not cryptographically random.
type Backoff struct {
	base      float64
	cap       time.Duration
	jitter    time.Duration
	increment int
	rng       *rand.Rand
}

// NewBackoff constructs a Backoff. It returns an error if base is
// non-finite, or if cap or jitter is negative.
func NewBackoff(base float64, cap, jitter time.Duration, initialIncrement int) (*Backoff, error) {
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, fmt.Errorf("ratekit: backoff base must be finite, got %v", base)
	}
	if cap < 0 || jitter < 0 {
		return nil, fmt.Errorf("ratekit: backoff cap and jitter must be non-negative")
	}
	return &Backoff{
		base:      base,
		cap:       cap,
		jitter:    jitter,
		increment: initialIncrement,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Next returns the next backoff duration in the sequence, advancing it.
func (b *Backoff) Next() time.Duration {
	value := time.Duration(math.Pow(b.base, float64(b.increment)) * float64(time.Second))
	if value >= b.cap {
		value = b.cap
	} else {
		b.increment++
	}

	if b.jitter > 0 {
		value += time.Duration(b.rng.Int63n(int64(b.jitter) + 1))
	}
	return value
}

// Reset returns the increment to zero, restarting the sequence.
func (b *Backoff) Reset() {
	b.increment = 0
}
