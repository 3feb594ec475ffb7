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

// Package ratekit turns a stream of concurrent, authenticated HTTP calls
// into a stream that never exceeds the per-route, per-resource, and global
// rate budgets advertised by the server.
//
// It does not know about any specific endpoint, entity, or wire format: it
// is handed a [CompiledRoute] and an opaque [BodyBuilder] and hands back a
// decoded response once it is safe to have made the call, via [Call] or
// [RequestDriver.Do] directly. Everything above that line (serialization,
// caching, pagination, gateway/websocket) is an external collaborator.
package ratekit

import "time"

// Snowflake is a chat-platform entity identifier. It is a convenience type
// for callers declaring a [RouteTemplate]'s major parameters (e.g. a
// channel or guild ID); ratekit's bucketing treats major parameters as
// opaque strings and never parses a Snowflake itself.
type Snowflake uint64

const discordEpochMillis int64 = 1420070400000

// Timestamp returns the creation time encoded in the snowflake.
func (s Snowflake) Timestamp() time.Time {
	ms := discordEpochMillis + int64(s>>22)
	return time.UnixMilli(ms)
}
