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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marouanesouiri/stdx/result"
)

type echoPayload struct {
	Content string `json:"content"`
}

func TestCallWaitDecodesJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"hello"}`))
	}))
	defer server.Close()

	d := newTestDriver(t)
	call := NewCall[echoPayload](d, routeFor(server.URL), nil, "", "Bot abc")

	r := call.Wait(context.Background())
	if r.IsErr() {
		t.Fatalf("Wait(): %v", r.Err())
	}
	if got := r.Value().Content; got != "hello" {
		t.Fatalf("Content = %q, want %q", got, "hello")
	}
}

func TestCallWaitPropagatesDriverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := newTestDriver(t)
	call := NewCall[echoPayload](d, routeFor(server.URL), nil, "", "Bot abc")

	r := call.Wait(context.Background())
	if !r.IsErr() {
		t.Fatal("Wait() = no error, want a StatusError for a 403 response")
	}
	if _, ok := r.Err().(*StatusError); !ok {
		t.Fatalf("Wait() error = %T, want *StatusError", r.Err())
	}
}

func TestCallSubmitDeliversResultAsynchronously(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":"async"}`))
	}))
	defer server.Close()

	d := newTestDriver(t)
	call := NewCall[echoPayload](d, routeFor(server.URL), nil, "", "Bot abc")

	done := make(chan result.Result[echoPayload], 1)
	call.Submit(context.Background(), func(r result.Result[echoPayload]) {
		done <- r
	})

	select {
	case r := <-done:
		if r.IsErr() {
			t.Fatalf("Submit callback delivered error: %v", r.Err())
		}
		if got := r.Value().Content; got != "async" {
			t.Fatalf("Content = %q, want %q", got, "async")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit callback never fired")
	}
}

func TestNoDataCallWaitReturnsNilOn204(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := newTestDriver(t)
	call := NewNoDataCall(d, routeFor(server.URL), nil, "", "Bot abc")

	if err := call.Wait(context.Background()); err != nil {
		t.Fatalf("Wait(): %v", err)
	}
}

func TestNoDataCallWaitPropagatesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := newTestDriver(t, WithMaxRetries(0))
	call := NewNoDataCall(d, routeFor(server.URL), nil, "", "Bot abc")

	if err := call.Wait(context.Background()); err == nil {
		t.Fatal("Wait() = nil error, want a StatusError")
	}
}

func TestNoDataCallSubmitDeliversNilOn204(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := newTestDriver(t)
	call := NewNoDataCall(d, routeFor(server.URL), nil, "", "Bot abc")

	errCh := make(chan error, 1)
	call.Submit(context.Background(), func(err error) {
		errCh <- err
	})

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Submit callback error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit callback never fired")
	}
}
