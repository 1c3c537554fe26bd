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

// descFlag is the receive descriptor's bitset, mirroring rdesc.flags.
type descFlag uint32

const (
	// descFromTransportDesc marks a descriptor that took ownership of a
	// transport-lent buffer in place, as opposed to one copied out of the
	// pool.
	descFromTransportDesc descFlag = 1 << iota
	// descQueued marks a descriptor currently linked into an endpoint's
	// match queue (as opposed to lent to the user or free).
	descQueued
)

// descriptor is a receive descriptor (rdesc): a tagged buffer holding one
// arrived fragment plus the metadata needed to track partial consumption
// and, eventually, release it back to its origin.
//
// A descriptor is on at most one queue at a time (the endpoint's match
// queue) or in the user's hand (zero-copy lend) or free; never more than
// one of those simultaneously. length is the number of unconsumed payload
// bytes remaining; it only shrinks as the request engine advances the
// descriptor.
type descriptor struct {
	buf    mem.Buffer // backing storage; nil for a pool-owned descriptor not yet populated
	data   []byte     // raw view into buf's bytes, re-sliced as payload is consumed
	length uint32
	flags  descFlag

	// releaseHook, when set, takes full responsibility for returning buf to
	// its origin in place of the default buf.Free(). This is the headroom
	// contract for a transport-owned descriptor (descFromTransportDesc): it
	// lets the collaborator that lent the buffer reclaim it into its own
	// pool/credit accounting without the engine knowing anything about that
	// pool's layout beyond "call this closure when you're done."
	releaseHook func()

	// next links this descriptor into the endpoint's match queue. Unused
	// while the descriptor is in the user's hand or free.
	next *descriptor
}

func (d *descriptor) isFromTransportDesc() bool { return d.flags&descFromTransportDesc != 0 }

// advance consumes k bytes off the front of the descriptor's remaining
// payload. The caller must never pass k > d.length.
func (d *descriptor) advance(k uint32) {
	d.data = d.data[k:]
	d.length -= k
}

// release returns the descriptor's backing buffer to its origin and clears
// it for reuse. Safe to call at most once per acquisition. When a
// releaseHook is present it alone decides how buf is reclaimed; otherwise
// buf.Free() returns it to the pool it came from.
func (d *descriptor) release() {
	if d.releaseHook != nil {
		d.releaseHook()
		d.releaseHook = nil
	} else if d.buf != nil {
		d.buf.Free()
	}
	d.buf = nil
	d.data = nil
	d.length = 0
	d.flags = 0
	d.next = nil
}

// descPool hands out descriptors backed by a shared grpc/mem.BufferPool,
// the same allocator the engine's collaborators (the AM transport, in
// particular) use for their own buffers. Unlike a posted request
// (see Worker.MaxPendingRequests), descriptor allocation here is never
// capped: arriving data is accepted unconditionally and NO_MEMORY is only
// ever returned for request allocation, per §7.
type descPool struct {
	bufs mem.BufferPool
}

func newDescPool(bufs mem.BufferPool) *descPool {
	if bufs == nil {
		bufs = mem.DefaultBufferPool()
	}
	return &descPool{bufs: bufs}
}

// copyFrom allocates a descriptor from the pool and copies payload into it,
// used when the fragment handler cannot take ownership of the transport's
// buffer in place.
func (p *descPool) copyFrom(payload []byte) *descriptor {
	buf := mem.Copy(payload, p.bufs)
	data := buf.ReadOnlyData()
	return &descriptor{
		buf:    buf,
		data:   data,
		length: uint32(len(data)),
	}
}

// adopt wraps an already-owned transport buffer without copying, marking it
// FROM_TRANSPORT_DESC so release returns it to the transport rather than the
// pool. hook, if non-nil, is invoked by release() instead of buf.Free() —
// the transport's own reclamation path (see AMFragment.ReleaseHook in
// DESIGN.md).
func adopt(buf mem.Buffer, hook func()) *descriptor {
	data := buf.ReadOnlyData()
	return &descriptor{
		buf:         buf,
		data:        data,
		length:      uint32(len(data)),
		flags:       descFromTransportDesc,
		releaseHook: hook,
	}
}
