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

func TestSnowflakeTimestamp(t *testing.T) {
	// 175928847299117063 is a well-known Discord snowflake whose embedded
	// timestamp is 2016-04-30T11:18:25.796Z.
	s := Snowflake(175928847299117063)
	ts := s.Timestamp()

	if got, want := ts.Year(), 2016; got != want {
		t.Fatalf("Timestamp().Year() = %d, want %d", got, want)
	}
	if got, want := ts.Month().String(), "April"; got != want {
		t.Fatalf("Timestamp().Month() = %s, want %s", got, want)
	}
}
