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

import "testing"

func TestRouteTemplateCompileSubstitutesPath(t *testing.T) {
	tmpl := &RouteTemplate{
		Method:      "GET",
		Path:        "/channels/{channel_id}/messages/{message_id}",
		MajorParams: []string{"channel_id"},
		RateLimited: true,
	}
	r := tmpl.Compile(map[string]string{"channel_id": "123", "message_id": "456"})

	if got, want := r.Path(), "/channels/123/messages/456"; got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
	if got, want := r.Method(), "GET"; got != want {
		t.Fatalf("Method() = %q, want %q", got, want)
	}
	if !r.RateLimited() {
		t.Fatal("RateLimited() = false, want true")
	}
}

func TestRouteTemplateRateLimitedFalsePropagates(t *testing.T) {
	tmpl := &RouteTemplate{Method: "GET", Path: "/static/{file}", RateLimited: false}
	r := tmpl.Compile(map[string]string{"file": "a.png"})
	if r.RateLimited() {
		t.Fatal("RateLimited() = true, want false")
	}
}

func TestFingerprintStableAcrossMajorParamValues(t *testing.T) {
	tmpl := &RouteTemplate{
		Method:      "POST",
		Path:        "/channels/{channel_id}/messages",
		MajorParams: []string{"channel_id"},
		RateLimited: true,
	}
	a := tmpl.Compile(map[string]string{"channel_id": "111"})
	b := tmpl.Compile(map[string]string{"channel_id": "222"})

	if a.fingerprint() != b.fingerprint() {
		t.Fatal("fingerprint() differs across major-param values for the same template")
	}
}

func TestFingerprintDiffersAcrossMethodOrPath(t *testing.T) {
	t1 := &RouteTemplate{Method: "GET", Path: "/channels/{id}"}
	t2 := &RouteTemplate{Method: "POST", Path: "/channels/{id}"}
	t3 := &RouteTemplate{Method: "GET", Path: "/guilds/{id}"}

	r1 := t1.Compile(map[string]string{"id": "1"})
	r2 := t2.Compile(map[string]string{"id": "1"})
	r3 := t3.Compile(map[string]string{"id": "1"})

	if r1.fingerprint() == r2.fingerprint() {
		t.Fatal("fingerprint() collided across differing methods")
	}
	if r1.fingerprint() == r3.fingerprint() {
		t.Fatal("fingerprint() collided across differing paths")
	}
}

func TestRealBucketKeyIncludesMajorParamsAndAuth(t *testing.T) {
	tmpl := &RouteTemplate{
		Method:      "POST",
		Path:        "/channels/{channel_id}/messages",
		MajorParams: []string{"channel_id"},
	}
	r1 := tmpl.Compile(map[string]string{"channel_id": "111"})
	r2 := tmpl.Compile(map[string]string{"channel_id": "222"})

	auth := fingerprintAuth("Bot abc")
	if r1.realBucketKey("h", auth) == r2.realBucketKey("h", auth) {
		t.Fatal("realBucketKey collided across differing major params")
	}

	auth2 := fingerprintAuth("Bot xyz")
	if r1.realBucketKey("h", auth) == r1.realBucketKey("h", auth2) {
		t.Fatal("realBucketKey collided across differing auth identities")
	}
}

func TestUnknownBucketKeyDistinctFromRealKey(t *testing.T) {
	tmpl := &RouteTemplate{Method: "GET", Path: "/users/{id}", MajorParams: []string{"id"}}
	r := tmpl.Compile(map[string]string{"id": "1"})
	auth := fingerprintAuth("Bot abc")

	if r.unknownBucketKey(auth) == r.realBucketKey("somehash", auth) {
		t.Fatal("unknownBucketKey collided with a real bucket key")
	}
}

func TestAuthFingerprintDeterministic(t *testing.T) {
	a := fingerprintAuth("Bot abc123")
	b := fingerprintAuth("Bot abc123")
	c := fingerprintAuth("Bot different")

	if a.String() != b.String() {
		t.Fatal("fingerprintAuth is not deterministic for identical input")
	}
	if a.String() == c.String() {
		t.Fatal("fingerprintAuth collided for differing credentials")
	}
}
