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

// readyList is the global FIFO of endpoints with unmatched data ready for a
// waiting user (C3). It is only ever touched under the owning Worker's
// critical section, so it needs no synchronization of its own. Membership
// is idempotent: enqueueReady on an already-queued endpoint is a no-op, and
// exactly one dequeueReady call removes it per enqueue.
type readyList struct {
	head, tail *Endpoint
}

// enqueueReady adds ep to the tail of the ready list unless it is already
// queued.
func (rl *readyList) enqueueReady(ep *Endpoint) {
	if ep.isQueued() {
		return
	}
	ep.flags |= epIsQueued
	ep.readyNext = nil
	if rl.tail == nil {
		rl.head = ep
	} else {
		rl.tail.readyNext = ep
	}
	rl.tail = ep
}

// dequeueReady removes ep from the ready list. It is a no-op if ep is not
// queued. Because the list is singly linked, this walks from head; the
// ready list is expected to stay short (one entry per endpoint with
// pending data), so this is acceptable.
func (rl *readyList) dequeueReady(ep *Endpoint) {
	if !ep.isQueued() {
		return
	}
	var prev *Endpoint
	for cur := rl.head; cur != nil; cur = cur.readyNext {
		if cur == ep {
			if prev == nil {
				rl.head = cur.readyNext
			} else {
				prev.readyNext = cur.readyNext
			}
			if rl.tail == cur {
				rl.tail = prev
			}
			break
		}
		prev = cur
	}
	ep.flags &^= epIsQueued
	ep.readyNext = nil
}

// popReadyEndpoint removes and returns the head of the ready list, or nil
// if empty. Intended for an external progress loop driving the scheduler;
// the receive engine itself never needs to pop from this list.
func (rl *readyList) popReadyEndpoint() *Endpoint {
	ep := rl.head
	if ep == nil {
		return nil
	}
	rl.head = ep.readyNext
	if rl.head == nil {
		rl.tail = nil
	}
	ep.flags &^= epIsQueued
	ep.readyNext = nil
	return ep
}
