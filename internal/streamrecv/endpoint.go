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

// epFlag is the endpoint's receive-state bitset.
type epFlag uint32

const (
	// epHasData marks that match_q currently holds unmatched descriptors
	// (as opposed to posted requests, or being empty). Mutually exclusive
	// in effect with a non-empty request queue: the two never hold
	// members at the same time.
	epHasData epFlag = 1 << iota
	// epIsQueued marks that the endpoint is linked into the worker's ready
	// list. Membership is idempotent: enqueue is a no-op when already set.
	epIsQueued
	// epUsed marks that ep_activate has run (the endpoint transitioned to
	// usable). Before this, arriving data accumulates on match_q but the
	// endpoint never joins the ready list.
	epUsed
)

// Endpoint is the per-connection receive state (C2): the dual-polarity
// match queue plus the flags that drive the ready scheduler and activation
// gating. All field access happens under the owning Worker's critical
// section; Endpoint itself holds no lock.
type Endpoint struct {
	id    uint64
	flags epFlag

	// descHead/descTail link unmatched descriptors when epHasData is set.
	descHead, descTail *descriptor

	// reqHead/reqTail link posted requests when epHasData is clear.
	reqHead, reqTail *request

	// readyNext links this endpoint into the worker's ready FIFO.
	readyNext *Endpoint
}

// ID returns the endpoint's transport-assigned identifier.
func (ep *Endpoint) ID() uint64 { return ep.id }

func (ep *Endpoint) init() {
	ep.flags = 0
	ep.descHead, ep.descTail = nil, nil
	ep.reqHead, ep.reqTail = nil, nil
	ep.readyNext = nil
}

func (ep *Endpoint) hasData() bool   { return ep.flags&epHasData != 0 }
func (ep *Endpoint) isQueued() bool  { return ep.flags&epIsQueued != 0 }
func (ep *Endpoint) isUsed() bool    { return ep.flags&epUsed != 0 }
func (ep *Endpoint) setUsed()        { ep.flags |= epUsed }

func (ep *Endpoint) descsEmpty() bool { return ep.descHead == nil }
func (ep *Endpoint) reqsEmpty() bool  { return ep.reqHead == nil }

// pushDesc appends d to the tail of the descriptor queue and sets
// epHasData. The caller must ensure the request queue is empty first
// (queue exclusivity, invariant 3).
func (ep *Endpoint) pushDesc(d *descriptor) {
	d.next = nil
	d.flags |= descQueued
	if ep.descTail == nil {
		ep.descHead = d
	} else {
		ep.descTail.next = d
	}
	ep.descTail = d
	ep.flags |= epHasData
}

// peekDesc returns the head descriptor without removing it, or nil.
func (ep *Endpoint) peekDesc() *descriptor { return ep.descHead }

// popDesc removes and returns the head descriptor. Clears epHasData when
// the queue becomes empty; the caller is responsible for the matching
// ready-list removal (dequeueReady), kept as a separate step so callers can
// batch it with other work inside the same critical section.
func (ep *Endpoint) popDesc() *descriptor {
	d := ep.descHead
	if d == nil {
		return nil
	}
	ep.descHead = d.next
	if ep.descHead == nil {
		ep.descTail = nil
		ep.flags &^= epHasData
	}
	d.next = nil
	d.flags &^= descQueued
	return d
}

// pushReq appends req to the tail of the posted-request queue. The caller
// must ensure the descriptor queue is empty first.
func (ep *Endpoint) pushReq(req *request) {
	req.next = nil
	if ep.reqTail == nil {
		ep.reqHead = req
	} else {
		ep.reqTail.next = req
	}
	ep.reqTail = req
}

// popReq removes and returns the head posted request, or nil.
func (ep *Endpoint) popReq() *request {
	req := ep.reqHead
	if req == nil {
		return nil
	}
	ep.reqHead = req.next
	if ep.reqHead == nil {
		ep.reqTail = nil
	}
	req.next = nil
	return req
}
