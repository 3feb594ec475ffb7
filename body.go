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

import "github.com/bytedance/sonic"

// BodyBuilder produces a request body and its Content-Type lazily, at
// send time, so retries re-encode rather than replay a stale buffer.
// Multipart/file bodies are an external collaborator implementing this
// interface; ratekit ships only the plain-JSON case.
type BodyBuilder interface {
	Build() (body []byte, contentType string, err error)
}

// jsonBody marshals an arbitrary value with sonic at send time.
type jsonBody struct {
	v any
}

// JSONBody wraps v as a [BodyBuilder] that marshals with sonic.
func JSONBody(v any) BodyBuilder {
	return &jsonBody{v: v}
}

func (j *jsonBody) Build() ([]byte, string, error) {
	if j.v == nil {
		return nil, "", nil
	}
	b, err := sonic.Marshal(j.v)
	if err != nil {
		return nil, "", &ProtocolError{Msg: "encoding request body: " + err.Error()}
	}
	return b, "application/json", nil
}
