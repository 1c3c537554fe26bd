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

// reqFlag is the receive request's bitset.
type reqFlag uint32

const (
	// reqExpected marks a request posted by the user ahead of data
	// arrival, as opposed to one the inplace fast path never needed to
	// allocate.
	reqExpected reqFlag = 1 << iota
	// reqCallback marks a request with a completion callback supplied;
	// completion invokes it inline inside the critical section.
	reqCallback
	// reqWaitAll demands the request not complete until its destination
	// is fully filled.
	reqWaitAll
	// reqCompleted marks a request that has run its completion exactly
	// once; it may never be re-queued afterwards.
	reqCompleted
)

// CompletionFunc is invoked exactly once when a request completes, with the
// number of bytes unpacked and a non-nil error only on failure or
// ep_cleanup cancellation. It runs inside the worker's critical section and
// must not call back into the engine.
type CompletionFunc func(length uint32, err error)

// request is a posted receive request (C6's unit of work): a destination
// iterator plus the bookkeeping needed to decide when it has gathered
// enough bytes to complete.
type request struct {
	it     *iterator
	dt     *Datatype
	offset uint64 // bytes unpacked so far
	length uint64 // dt.Len(), cached
	flags  reqFlag

	cb CompletionFunc

	err  error
	next *request // link into the endpoint's match queue

	done chan struct{} // closed on completion; nil for callback-only requests
}

func newRequest(dt *Datatype, waitAll bool, cb CompletionFunc) *request {
	r := &request{
		it:     newIterator(dt),
		dt:     dt,
		length: dt.Len(),
		flags:  reqExpected,
	}
	if waitAll {
		r.flags |= reqWaitAll
	}
	if cb != nil {
		r.flags |= reqCallback
		r.cb = cb
	} else {
		r.done = make(chan struct{})
	}
	return r
}

func (r *request) remaining() uint64 { return r.length - r.offset }

func (r *request) isCompleted() bool { return r.flags&reqCompleted != 0 }

// canComplete implements the completion predicate of §4.4.
func (r *request) canComplete() bool {
	if r.offset == r.length {
		return true
	}
	if r.flags&reqWaitAll != 0 || r.offset == 0 {
		return false
	}
	if r.dt.Class != DTContig {
		return true
	}
	return r.offset%uint64(r.dt.ElemSize) == 0
}

// clampForCompletion decides how many of avail available bytes a request
// should take right now. When avail covers the whole remaining length, the
// full amount is taken (offset reaches length, always completable). When
// avail falls short, a contig request without WAITALL only takes a
// multiple of elem_size, so it lands on a completable boundary instead of
// stalling mid-element; the uncounted residue is left for whatever
// descriptor or request comes next.
func (r *request) clampForCompletion(avail uint64) uint64 {
	take := avail
	if take > r.remaining() {
		take = r.remaining()
	}
	if take == r.remaining() {
		return take
	}
	if r.flags&reqWaitAll != 0 || r.dt.Class != DTContig || r.dt.ElemSize == 0 {
		return take
	}
	return take - (take % uint64(r.dt.ElemSize))
}

// consume unpacks up to remaining bytes from src into the request's
// destination at the current offset, advancing offset by what was
// consumed. Returns the number of bytes consumed.
func (r *request) consume(src []byte, last bool) (int, error) {
	room := r.remaining()
	if uint64(len(src)) > room {
		src = src[:room]
	}
	n, err := r.it.unpack(r.offset, src, last)
	r.offset += uint64(n)
	return n, err
}

// complete marks the request finished and fires its completion exactly
// once. Must run inside the worker's critical section.
func (r *request) complete(status error) {
	if r.isCompleted() {
		return
	}
	r.flags |= reqCompleted
	r.err = status
	if r.flags&reqCallback != 0 {
		if r.cb != nil {
			r.cb(uint32(r.offset), status)
		}
		return
	}
	close(r.done)
}

// Handle is returned by Recv for a request that did not complete
// immediately. Wait blocks until the worker's AM handler (running on
// whatever goroutine services the transport) completes it.
type Handle struct {
	req *request
}

// Wait blocks until the request completes, returning the number of bytes
// unpacked and any completion error (including an ep_cleanup status).
func (h *Handle) Wait() (uint32, error) {
	<-h.req.done
	return uint32(h.req.offset), h.req.err
}

// Done reports whether the request has already completed, for a
// non-blocking poll.
func (h *Handle) Done() bool {
	select {
	case <-h.req.done:
		return true
	default:
		return false
	}
}
