/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package streamrecv implements the stream receive path of a zero-copy
// transport runtime: matching inbound Active Message fragments against
// posted receive requests on a per-endpoint basis, unpacking into user
// buffers according to data-type semantics, and exposing both a
// callback-driven receive call and a zero-copy data-reference call.
package streamrecv

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errInvalidParam reports that the STREAM feature is not enabled on the
// endpoint's worker, or that a caller passed malformed parameters.
func errInvalidParam(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, "streamrecv: "+format, args...)
}

// errNoMemory reports that a receive request could not be posted because
// the endpoint already holds WorkerOptions.MaxPendingRequests pending
// requests.
func errNoMemory(format string, args ...any) error {
	return status.Errorf(codes.ResourceExhausted, "streamrecv: "+format, args...)
}

// errNoResource reports that FORCE_IMM_CMPL was requested but no data was
// available to satisfy it immediately.
func errNoResource(format string, args ...any) error {
	return status.Errorf(codes.Unavailable, "streamrecv: "+format, args...)
}

// errNoProgress is an internal-only signal used while threading the inplace
// fast path and the drain loop; it must never reach a caller.
var errNoProgress = status.Error(codes.Internal, "streamrecv: no progress (internal)")

// IsNoResource reports whether err is the NO_RESOURCE status produced when
// FORCE_IMM_CMPL finds no queued data.
func IsNoResource(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// IsInvalidParam reports whether err is the INVALID_PARAM status produced
// by a disabled feature or malformed call parameters.
func IsInvalidParam(err error) bool {
	return status.Code(err) == codes.InvalidArgument
}

// IsNoMemory reports whether err is the NO_MEMORY status produced when a
// Recv call would push an endpoint's pending-request count past its
// configured limit.
func IsNoMemory(err error) bool {
	return status.Code(err) == codes.ResourceExhausted
}
