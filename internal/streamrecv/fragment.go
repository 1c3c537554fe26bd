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

package streamrecv

import "google.golang.org/grpc/mem"

// AMResult is the inbound-path return value: whether the transport may
// immediately free/reuse the delivered buffer (ResultOK) or the engine
// retained it as a descriptor (ResultInProgress).
type AMResult int

const (
	// ResultOK means the buffer was fully consumed inline; the transport
	// may free or reuse it.
	ResultOK AMResult = iota
	// ResultInProgress means the handler retained the buffer as a
	// descriptor; the transport must not reuse it until released.
	ResultInProgress
)

// AMFragment is one inbound Active Message delivery, exactly as the
// transport contract in §6 describes it: an endpoint id, a payload, and
// whether the payload is a descriptor the handler may adopt in place
// rather than having to copy it out before returning.
type AMFragment struct {
	EndpointID uint64
	Payload    mem.Buffer // payload bytes, already past any AM header
	Desc       bool       // true iff Payload may be adopted in place (UCT_CB_PARAM_FLAG_DESC)

	// ReleaseHook, when Desc is true, is the transport's own reclamation
	// closure for Payload: release_desc_offset's headroom contract rendered
	// as a callback instead of a raw byte offset. The engine calls it
	// exactly once, when the adopted descriptor is fully released, in place
	// of Payload.Free(). Nil means Payload.Free() is used directly.
	ReleaseHook func()
}

// AMHandler is the fragment handler (C5): the sole entry point the
// transport calls on arrival of a stream AM. It runs under the worker's
// critical section for its entire duration.
type AMHandler struct {
	w *Worker
}

// NewAMHandler binds a fragment handler to w.
func NewAMHandler(w *Worker) *AMHandler { return &AMHandler{w: w} }

// Deliver implements the inbound path of §4.3. Fragments for an endpoint id
// the worker has never heard of are dropped silently and reported as
// ResultOK; no routing error is surfaced.
func (h *AMHandler) Deliver(frag AMFragment) AMResult {
	release := h.w.enter()
	defer release()

	ep, ok := h.w.lookupEndpoint(frag.EndpointID)
	if !ok {
		return ResultOK
	}

	data := frag.Payload.ReadOnlyData()

	if !ep.hasData() && !ep.reqsEmpty() {
		consumed, _ := h.matchLoop(ep, data)
		data = data[consumed:]
	}

	if len(data) == 0 {
		return ResultOK
	}

	var d *descriptor
	if frag.Desc {
		d = adopt(frag.Payload, frag.ReleaseHook)
		d.data = data
		d.length = uint32(len(data))
	} else {
		d = h.w.pool.copyFrom(data)
	}

	ep.pushDesc(d)
	if ep.isUsed() && !ep.isQueued() {
		h.w.ready.enqueueReady(ep)
	}

	if frag.Desc {
		return ResultInProgress
	}
	return ResultOK
}

// matchLoop drives already-posted requests against an arriving fragment's
// bytes, FIFO, until either the fragment is exhausted or the request queue
// runs dry with residue remaining. Returns how many bytes of data were
// consumed this way.
func (h *AMHandler) matchLoop(ep *Endpoint, data []byte) (consumed int, requestsRemain bool) {
	for len(data) > 0 && !ep.reqsEmpty() {
		req := ep.reqHead
		takeLen := req.clampForCompletion(uint64(len(data)))
		if takeLen == 0 {
			// Cursor residue can't align to a completable boundary for
			// this request; leave it queued and stop, materializing
			// whatever remains of the fragment as a fresh descriptor.
			break
		}
		take := data[:takeLen]
		k, err := req.consume(take, takeLen == req.remaining())
		consumed += k
		data = data[k:]
		if err != nil {
			ep.popReq()
			req.complete(err)
			continue
		}
		if req.canComplete() {
			ep.popReq()
			req.complete(nil)
			continue
		}
		if k == 0 {
			break
		}
	}
	return consumed, !ep.reqsEmpty()
}

// DebugFragment is a point-in-time, read-only description of one endpoint's
// match queue, modeled on ucp_stream_am_dump's trace output: enough to log
// or assert against without exposing descriptor/request internals.
type DebugFragment struct {
	EndpointID uint64

	QueuedDescriptors int
	QueuedBytes       uint64
	// HeadFromTransport is true when the head queued descriptor was adopted
	// in place from the transport rather than copied into the pool.
	HeadFromTransport bool

	PendingRequests int
	// HeadPendingRemaining is the number of bytes the oldest pending
	// request still needs, or 0 if PendingRequests is 0.
	HeadPendingRemaining uint64
}

// Snapshot returns a DebugFragment for endpointID without mutating any
// state. The second return value is false if the worker has never heard of
// endpointID. It runs inside the worker's critical section, so on a
// MultiThread worker it is safe to call concurrently with Deliver/Recv.
func (h *AMHandler) Snapshot(endpointID uint64) (DebugFragment, bool) {
	release := h.w.enter()
	defer release()

	ep, ok := h.w.lookupEndpoint(endpointID)
	if !ok {
		return DebugFragment{}, false
	}

	df := DebugFragment{EndpointID: endpointID}
	for d := ep.descHead; d != nil; d = d.next {
		df.QueuedDescriptors++
		df.QueuedBytes += uint64(d.length)
	}
	if ep.descHead != nil {
		df.HeadFromTransport = ep.descHead.isFromTransportDesc()
	}
	for r := ep.reqHead; r != nil; r = r.next {
		df.PendingRequests++
	}
	if ep.reqHead != nil {
		df.HeadPendingRemaining = ep.reqHead.remaining()
	}
	return df, true
}
