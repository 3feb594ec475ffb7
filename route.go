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
	"hash/fnv"
	"strconv"
	"strings"
)

// unknownBucketHash is the placeholder name used before the server has
// revealed a route's real bucket hash.
const unknownBucketHash = "UNKNOWN"

// RouteTemplate is a route pattern without concrete major-parameter values,
// e.g. "GET /channels/{channel_id}/messages/{message_id}". Compile binds
// concrete path values to produce a [CompiledRoute].
type RouteTemplate struct {
	Method string
	Path   string // uses "{name}" placeholders
	// MajorParams names the subset of placeholders that partition the
	// rate-limit space (identifier-typed path parameters).
	MajorParams []string
	// RateLimited is false for routes the server never rate-limits (e.g.
	// static asset lookups); such calls skip bucket acquisition entirely
	// but still traverse the global limiter, per spec invariant.
	RateLimited bool
}

// Compile binds concrete path parameter values to the template, producing a
// [CompiledRoute]. params maps placeholder name ("channel_id") to its value.
func (t *RouteTemplate) Compile(params map[string]string) *CompiledRoute {
	path := t.Path
	var majorBuilder strings.Builder
	for _, name := range t.MajorParams {
		val := params[name]
		majorBuilder.WriteString(val)
		majorBuilder.WriteByte(';')
	}
	for name, val := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", val)
	}
	return &CompiledRoute{
		method:      t.Method,
		path:        path,
		template:    t,
		majorParams: majorBuilder.String(),
	}
}

// CompiledRoute is a concrete HTTP call template: method, interpolated
// path, and the major-parameter values that partition its rate-limit
// space. It is the unit of identity a [RequestDriver] acts on.
type CompiledRoute struct {
	method      string
	path        string
	template    *RouteTemplate
	majorParams string
}

func (r *CompiledRoute) Method() string { return r.method }
func (r *CompiledRoute) Path() string   { return r.path }
func (r *CompiledRoute) RateLimited() bool {
	return r.template == nil || r.template.RateLimited
}

func (r *CompiledRoute) String() string {
	return fmt.Sprintf("%s %s", r.method, r.path)
}

// fingerprint is the route fingerprint: a stable hash of method+pattern,
// independent of major-param values, used as the key in the learned
// route-fingerprint → bucket-hash map.
func (r *CompiledRoute) fingerprint() uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.method))
	h.Write([]byte{0})
	if r.template != nil {
		h.Write([]byte(r.template.Path))
	} else {
		h.Write([]byte(r.path))
	}
	return h.Sum64()
}

// realBucketKey assembles bucket_hash ⊕ auth_fingerprint ⊕ major_params,
// the concrete bucket identity used to look up a live RestBucket.
func (r *CompiledRoute) realBucketKey(bucketHash string, auth authFingerprint) string {
	return bucketHash + "|" + auth.String() + "|" + r.majorParams
}

// unknownBucketKey is the real key used before the server has revealed a
// bucket hash for this route+auth: UNKNOWN ⊕ auth_fingerprint ⊕ route_fingerprint.
func (r *CompiledRoute) unknownBucketKey(auth authFingerprint) string {
	return unknownBucketHash + "|" + auth.String() + "|" + strconv.FormatUint(r.fingerprint(), 36)
}

// authFingerprint identifies the credential used for a request without
// retaining the credential itself in long-lived registry maps.
type authFingerprint [8]byte

func (a authFingerprint) String() string {
	return strconv.FormatUint(uint64(a[0])<<56|uint64(a[1])<<48|uint64(a[2])<<40|uint64(a[3])<<32|
		uint64(a[4])<<24|uint64(a[5])<<16|uint64(a[6])<<8|uint64(a[7]), 36)
}

// fingerprintAuth derives an authFingerprint from a resolved Authorization
// header value ("" for unauthenticated requests).
func fingerprintAuth(auth string) authFingerprint {
	h := fnv.New64a()
	h.Write([]byte(auth))
	sum := h.Sum(nil)
	var fp authFingerprint
	copy(fp[:], sum)
	return fp
}
