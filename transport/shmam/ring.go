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

package shmam

import (
	"context"
	"errors"
	"io"
	"time"
	"unsafe"
)

// ErrRingClosed indicates that the ring has been closed for writing.
var ErrRingClosed = errors.New("shmam: ring closed")

// Ring is a single-producer/single-consumer ring buffer over shared memory,
// with futex-based blocking for both directions. Capacity is a power of two.
type Ring struct {
	capMask  uint64
	capacity uint64
	hdrOff   uintptr
	dataOff  uintptr
	mem      []byte
}

// NewRingFromSegment builds a blocking Ring view over one of a Segment's two
// ring regions.
func NewRingFromSegment(rv *ringView, mem []byte) *Ring {
	capacity := rv.Capacity()
	return &Ring{
		capMask:  capacity - 1,
		capacity: capacity,
		hdrOff:   uintptr(rv.offset),
		dataOff:  uintptr(rv.offset + RingHeaderSize),
		mem:      mem,
	}
}

func (r *Ring) header() *RingHeader {
	return (*RingHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(&r.mem[0])) + r.hdrOff))
}

func (r *Ring) dataPtr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(&r.mem[0])) + r.dataOff)
}

// Capacity returns the ring's byte capacity.
func (r *Ring) Capacity() uint64 { return r.capacity }

// Used returns the number of bytes currently queued.
func (r *Ring) Used() uint64 {
	hdr := r.header()
	return loadU64(&hdr.widx) - loadU64(&hdr.ridx)
}

// IsClosed reports whether Close has been called on this ring.
func (r *Ring) IsClosed() bool { return loadU32(&r.header().closed) != 0 }

func (r *Ring) copyIn(writePos, n uint64, data []byte) {
	if writePos+n <= r.capacity {
		dst := unsafe.Pointer(uintptr(r.dataPtr()) + uintptr(writePos))
		copy((*[1 << 30]byte)(dst)[:n], data)
		return
	}
	first := r.capacity - writePos
	dst1 := unsafe.Pointer(uintptr(r.dataPtr()) + uintptr(writePos))
	copy((*[1 << 30]byte)(dst1)[:first], data[:first])
	dst2 := r.dataPtr()
	copy((*[1 << 30]byte)(dst2)[:n-first], data[first:])
}

func (r *Ring) copyOut(readPos, n uint64, buf []byte) int {
	if readPos+n <= r.capacity {
		src := unsafe.Pointer(uintptr(r.dataPtr()) + uintptr(readPos))
		return copy(buf, (*[1 << 30]byte)(src)[:n])
	}
	first := r.capacity - readPos
	src1 := unsafe.Pointer(uintptr(r.dataPtr()) + uintptr(readPos))
	read := copy(buf, (*[1 << 30]byte)(src1)[:first])
	src2 := r.dataPtr()
	read += copy(buf[read:], (*[1 << 30]byte)(src2)[:n-first])
	return read
}

// WriteBlockingContext writes all of data to the ring, blocking until space
// is available, the context is done, or the ring is closed.
func (r *Ring) WriteBlockingContext(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if uint64(len(data)) > r.capacity {
		return errors.New("shmam: data larger than ring capacity")
	}
	hdr := r.header()
	for {
		if loadU32(&hdr.closed) != 0 {
			return ErrRingClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		writeIdx := loadU64(&hdr.widx)
		readIdx := loadU64(&hdr.ridx)
		used := writeIdx - readIdx
		available := r.capacity - used

		if uint64(len(data)) <= available {
			r.copyIn(writeIdx&r.capMask, uint64(len(data)), data)
			storeU64(&hdr.widx, writeIdx+uint64(len(data)))
			if used == 0 {
				addU32(&hdr.dataSeq, 1)
				futexWake(&hdr.dataSeq, 1)
			}
			return nil
		}

		spaceSeq := loadU32(&hdr.spaceSeq)
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return context.DeadlineExceeded
			}
			if err := futexWaitTimeout(&hdr.spaceSeq, spaceSeq, remaining.Nanoseconds()); err != nil {
				if errors.Is(err, ErrFutexTimeout) {
					return context.DeadlineExceeded
				}
				return err
			}
		} else if err := futexWait(&hdr.spaceSeq, spaceSeq); err != nil {
			return err
		}
	}
}

// ReadBlockingContext reads up to len(buf) bytes, blocking until data is
// available, the context is done, or the ring is closed and drained.
func (r *Ring) ReadBlockingContext(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	hdr := r.header()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		writeIdx := loadU64(&hdr.widx)
		readIdx := loadU64(&hdr.ridx)
		used := writeIdx - readIdx

		if used > 0 {
			toRead := used
			if toRead > uint64(len(buf)) {
				toRead = uint64(len(buf))
			}
			n := r.copyOut(readIdx&r.capMask, toRead, buf)
			storeU64(&hdr.ridx, readIdx+uint64(n))
			addU32(&hdr.spaceSeq, 1)
			futexWake(&hdr.spaceSeq, 1)
			return n, nil
		}

		if loadU32(&hdr.closed) != 0 {
			return 0, io.EOF
		}

		dataSeq := loadU32(&hdr.dataSeq)
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, context.DeadlineExceeded
			}
			if err := futexWaitTimeout(&hdr.dataSeq, dataSeq, remaining.Nanoseconds()); err != nil {
				if errors.Is(err, ErrFutexTimeout) {
					return 0, context.DeadlineExceeded
				}
				return 0, err
			}
		} else if err := futexWait(&hdr.dataSeq, dataSeq); err != nil {
			return 0, err
		}
	}
}

// ReadExact blocks until exactly len(buf) bytes have been read, looping over
// ReadBlockingContext as needed.
func (r *Ring) ReadExact(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.ReadBlockingContext(ctx, buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

// Close closes the ring for writing and wakes any blocked reader or writer.
func (r *Ring) Close() {
	hdr := r.header()
	storeU32(&hdr.closed, 1)
	futexWake(&hdr.dataSeq, 1)
	futexWake(&hdr.spaceSeq, 1)
}
