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

	"github.com/bytedance/sonic"
	"github.com/marouanesouiri/stdx/result"
)

// Call is one logical API call that decodes its response body as T. It
// generalizes the teacher's callWithData[T]: a synchronous Wait and an
// async Submit layered over the same [RequestDriver.Do].
type Call[T any] struct {
	driver      *RequestDriver
	route       *CompiledRoute
	body        BodyBuilder
	auditReason string
	auth        string
}

// NewCall builds a Call bound to driver. auditReason and auth may be empty.
func NewCall[T any](driver *RequestDriver, route *CompiledRoute, body BodyBuilder, auditReason, auth string) *Call[T] {
	return &Call[T]{driver: driver, route: route, body: body, auditReason: auditReason, auth: auth}
}

// Wait performs the call and blocks for its result.
func (c *Call[T]) Wait(ctx context.Context) result.Result[T] {
	var zero T

	resp, err := c.driver.Do(ctx, c.route, c.body, c.auditReason, c.auth)
	if err != nil {
		return result.Err[T](err)
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return result.Ok(zero)
	}

	var v T
	if err := sonic.Unmarshal(resp.Body, &v); err != nil {
		return result.Err[T](&ProtocolError{Msg: "decoding response body: " + err.Error()})
	}
	return result.Ok(v)
}

// Submit performs the call on the driver's bounded async dispatcher and
// hands the result to callback once it completes. Dropped (queue-full)
// submissions deliver a [ComponentStateError] to callback synchronously.
func (c *Call[T]) Submit(ctx context.Context, callback func(result.Result[T])) {
	ok := c.driver.dispatcher.submit(func() {
		callback(c.Wait(ctx))
	})
	if !ok {
		callback(result.Err[T](&ComponentStateError{Msg: "async dispatch queue full, call dropped"}))
	}
}

// NoDataCall is a [Call] whose response body carries no meaningful value,
// e.g. DELETE endpoints that return 204. It generalizes the teacher's
// callWithNoData.
type NoDataCall struct {
	inner *Call[struct{}]
}

// NewNoDataCall builds a NoDataCall bound to driver.
func NewNoDataCall(driver *RequestDriver, route *CompiledRoute, body BodyBuilder, auditReason, auth string) *NoDataCall {
	return &NoDataCall{inner: NewCall[struct{}](driver, route, body, auditReason, auth)}
}

// Wait performs the call and blocks, returning only an error.
func (c *NoDataCall) Wait(ctx context.Context) error {
	r := c.inner.Wait(ctx)
	if r.IsErr() {
		return r.Err()
	}
	return nil
}

// Submit performs the call asynchronously, handing callback only an error.
func (c *NoDataCall) Submit(ctx context.Context, callback func(error)) {
	c.inner.Submit(ctx, func(r result.Result[struct{}]) {
		if r.IsErr() {
			callback(r.Err())
			return
		}
		callback(nil)
	})
}
