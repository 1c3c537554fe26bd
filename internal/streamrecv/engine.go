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

// RecvFlag configures a Recv call.
type RecvFlag uint32

const (
	// RecvWaitAll demands the call not complete until buf is fully filled.
	RecvWaitAll RecvFlag = 1 << iota
	// RecvNoImmediateCompletion forbids the inplace fast path: the caller
	// will always get a pending handle back, never an immediate result.
	RecvNoImmediateCompletion
	// RecvForceImmediateCompletion demands an immediate result; if no data
	// is queued to satisfy it, the call fails with NO_RESOURCE rather than
	// posting a request.
	RecvForceImmediateCompletion
)

// RecvParams configures a Recv call beyond the destination datatype.
type RecvParams struct {
	Flags    RecvFlag
	Callback CompletionFunc
}

// Result is the outcome of an immediately-completed Recv call.
type Result struct {
	Length uint32
}

// Recv implements the full receive operation recv_nbx (§4.4): try the
// inplace fast path, then either complete immediately or post a request.
// A non-nil error means the call failed. Without a Callback, a non-nil
// Handle means the call is pending and a non-nil Result means it completed
// immediately. With a Callback, no Handle is returned: a request completed
// by the drain loop or posted for later reports its completion only through
// the Callback (both cases return a nil Result and a nil Handle), while an
// inplace fast-path completion returns a Result without invoking it.
func (w *Worker) Recv(ep *Endpoint, dt *Datatype, params RecvParams) (*Result, *Handle, error) {
	release := w.enter()
	defer release()

	if !w.streamFeature {
		return nil, nil, errInvalidParam("STREAM feature not enabled on this worker")
	}

	if params.Flags&RecvNoImmediateCompletion == 0 {
		if res, err := w.tryRecvInplace(ep, dt, params.Flags&RecvWaitAll != 0); err != errNoProgress {
			if err != nil {
				return nil, nil, err
			}
			return res, nil, nil
		}
	}

	if params.Flags&RecvForceImmediateCompletion != 0 {
		return nil, nil, errNoResource("no data queued to satisfy FORCE_IMM_CMPL")
	}

	req := newRequest(dt, params.Flags&RecvWaitAll != 0, params.Callback)

	// Drain loop (§4.4 step 4): consume whatever is already queued before
	// deciding whether this request can complete inline or must post.
	for req.remaining() > 0 && ep.hasData() {
		d := ep.peekDesc()
		takeLen := req.clampForCompletion(uint64(len(d.data)))
		if takeLen == 0 {
			// This descriptor can't bring the request to a completable
			// boundary; leave both as they are for a later call.
			break
		}
		take := d.data[:takeLen]
		k, err := req.consume(take, takeLen == req.remaining())
		if err != nil {
			if d := ep.popDesc(); d != nil {
				d.release()
			}
			if !ep.hasData() && ep.isQueued() {
				w.ready.dequeueReady(ep)
			}
			req.complete(err)
			return nil, nil, err
		}
		advanceDesc(ep, w, d, uint32(k))
		if dt.Class == DTGeneric && params.Flags&RecvWaitAll == 0 {
			// Avoid extra buffering for generic without WAITALL: stop
			// after one descriptor.
			break
		}
	}

	if req.canComplete() {
		req.complete(nil)
		if params.Callback != nil {
			return nil, nil, nil
		}
		return &Result{Length: uint32(req.offset)}, nil, nil
	}

	if w.maxPendingRequests > 0 {
		pending := 0
		for r := ep.reqHead; r != nil; r = r.next {
			pending++
		}
		if pending >= w.maxPendingRequests {
			return nil, nil, errNoMemory("endpoint %d already has %d pending requests (limit %d)", ep.ID(), pending, w.maxPendingRequests)
		}
	}

	ep.pushReq(req)
	if params.Callback != nil {
		return nil, nil, nil
	}
	return nil, &Handle{req: req}, nil
}

// tryRecvInplace implements try_recv_inplace (§4.4): consume directly from
// a queued descriptor without allocating a request. Returns errNoProgress
// (never surfaced to the caller) when the fast path does not apply. Per
// §4.4: "Else if WAITALL or desc.length < elem_size: return NO_PROGRESS" —
// a WAITALL request that the head descriptor cannot fully satisfy must
// fall through to a posted, pending request rather than short-complete.
func (w *Worker) tryRecvInplace(ep *Endpoint, dt *Datatype, waitAll bool) (*Result, error) {
	if !ep.hasData() {
		return nil, errNoProgress
	}
	if dt.Class != DTContig && dt.Class != DTIOV {
		return nil, errNoProgress
	}

	recvLength := dt.Len()

	d := ep.peekDesc()
	if uint64(d.length) >= recvLength {
		it := newIterator(dt)
		n, err := it.unpack(0, d.data[:recvLength], true)
		if err != nil {
			return nil, err
		}
		advanceDesc(ep, w, d, uint32(n))
		return &Result{Length: uint32(n)}, nil
	}

	if waitAll {
		return nil, errNoProgress
	}

	if dt.Class == DTContig && dt.ElemSize > 0 && uint64(d.length) < uint64(dt.ElemSize) {
		return nil, errNoProgress
	}

	avail := uint64(d.length)
	if dt.Class == DTContig && dt.ElemSize > 0 {
		avail = avail - (avail % uint64(dt.ElemSize))
	}
	if avail == 0 {
		return nil, errNoProgress
	}
	it := newIterator(dt)
	n, err := it.unpack(0, d.data[:avail], false)
	if err != nil {
		return nil, err
	}
	advanceDesc(ep, w, d, uint32(n))
	return &Result{Length: uint32(n)}, nil
}

// advanceDesc consumes k bytes from the head descriptor of ep, releasing
// and popping it if exhausted, and keeping the ready list in sync when the
// endpoint runs dry of data.
func advanceDesc(ep *Endpoint, w *Worker, d *descriptor, k uint32) {
	if k >= d.length {
		popped := ep.popDesc()
		popped.release()
		if !ep.hasData() && ep.isQueued() {
			w.ready.dequeueReady(ep)
		}
		return
	}
	d.advance(k)
}

// RecvDataResult is the outcome of a zero-copy RecvDataNB call.
type RecvDataResult struct {
	// Data is nil when no data was queued (OK-with-NULL per §4.4).
	Data []byte
	desc *descriptor
}

// RecvDataNB implements recv_data_nb (§4.4): lends the head descriptor's
// payload to the caller without copying. The caller must later call
// DataRelease with the same RecvDataResult to return the descriptor to its
// pool.
func (w *Worker) RecvDataNB(ep *Endpoint) (*RecvDataResult, error) {
	release := w.enter()
	defer release()

	if !w.streamFeature {
		return nil, errInvalidParam("STREAM feature not enabled on this worker")
	}

	if !ep.hasData() {
		return &RecvDataResult{}, nil
	}

	d := ep.popDesc()
	if !ep.hasData() && ep.isQueued() {
		w.ready.dequeueReady(ep)
	}
	return &RecvDataResult{Data: d.data, desc: d}, nil
}

// DataRelease returns a descriptor lent out by RecvDataNB to its origin
// (the transport, if adopted in place, or the descriptor pool otherwise).
// No ordering is required across different RecvDataResults.
func (w *Worker) DataRelease(res *RecvDataResult) {
	if res == nil || res.desc == nil {
		return
	}
	release := w.enter()
	defer release()
	res.desc.release()
	res.desc = nil
}
