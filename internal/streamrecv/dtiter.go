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

import "fmt"

// DTClass identifies which of the three unpack strategies a Datatype uses.
type DTClass int

const (
	// DTContig is a flat buffer; elem-size granularity is enforced by the
	// request engine, not the iterator.
	DTContig DTClass = iota
	// DTIOV is a scatter-gather list; 1-byte granularity.
	DTIOV
	// DTGeneric delegates to a user-supplied unpacker; any quantity is a
	// valid unit, so completion can happen on partial data unless the
	// request demands WAITALL.
	DTGeneric
)

// GenericUnpacker is the opaque pack/unpack vtable a caller supplies for a
// DTGeneric datatype. Offset is the cumulative number of bytes already
// delivered to this destination across all previous calls.
type GenericUnpacker interface {
	UnpackAt(offset uint64, src []byte) (consumed int, err error)
}

// Datatype describes how a receive request's destination buffer should be
// filled as fragments arrive.
type Datatype struct {
	Class      DTClass
	ElemSize   uint32          // meaningful only for DTContig
	Contig     []byte          // destination buffer for DTContig
	IOV        [][]byte        // scatter-gather destination for DTIOV
	Generic    GenericUnpacker // destination for DTGeneric
	GenericLen uint64          // total byte count the caller expects UnpackAt to consume
}

// Len returns the datatype's total destination length: len(Contig) for
// contig, the summed length of all IOV entries for iov, or GenericLen for
// generic (the opaque unpacker's own notion of destination length, since
// unlike contig/iov the engine cannot infer it from the buffer itself).
func (dt *Datatype) Len() uint64 {
	switch dt.Class {
	case DTContig:
		return uint64(len(dt.Contig))
	case DTIOV:
		var total uint64
		for _, e := range dt.IOV {
			total += uint64(len(e))
		}
		return total
	default:
		return dt.GenericLen
	}
}

// iterator is the unpack cursor into a request's destination. It tracks the
// position within an IOV destination; the cumulative destination offset is
// kept by the caller and passed to unpack.
type iterator struct {
	dt *Datatype

	// iovIdx/iovOff track position within dt.IOV for DTIOV.
	iovIdx int
	iovOff int
}

func newIterator(dt *Datatype) *iterator {
	return &iterator{dt: dt}
}

// unpack consumes up to len(src) bytes from src into the iterator's
// destination, starting at cumulative destination offset. It returns the
// number of bytes actually consumed (always len(src) for contig/iov; may be
// less for generic) or a fatal unpack error. Truncation against the
// destination's own length is the caller's responsibility: unpack never
// clamps len(src) itself.
//
// last signals that this is the final call expected to touch the
// iterator (the request has reached completion or is being torn down).
// None of the three strategies reads it, and it is not passed on to a
// GenericUnpacker, which has no hook for releasing state.
func (it *iterator) unpack(dstOffset uint64, src []byte, last bool) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	switch it.dt.Class {
	case DTContig:
		n := copy(it.dt.Contig[dstOffset:], src)
		return n, nil
	case DTIOV:
		return it.unpackIOV(src)
	case DTGeneric:
		n, err := it.dt.Generic.UnpackAt(dstOffset, src)
		if err != nil {
			return n, fmt.Errorf("generic unpack at offset %d: %w", dstOffset, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown datatype class %d", it.dt.Class)
	}
}

func (it *iterator) unpackIOV(src []byte) (int, error) {
	consumed := 0
	for len(src) > 0 && it.iovIdx < len(it.dt.IOV) {
		entry := it.dt.IOV[it.iovIdx]
		n := copy(entry[it.iovOff:], src)
		consumed += n
		src = src[n:]
		it.iovOff += n
		if it.iovOff >= len(entry) {
			it.iovIdx++
			it.iovOff = 0
		}
	}
	return consumed, nil
}
