//go:build linux

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
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Linux futex operation codes, shared (non-private) variants: the ring
// headers live in a MAP_SHARED segment that the acceptor and initiator
// processes each map on their own, so a waiter in one process must be
// woken by a wake issued from the other.
const (
	futexWaitShared = 0 // FUTEX_WAIT
	futexWakeShared = 1 // FUTEX_WAKE
)

// futexWait blocks while *addr == val. The caller must only invoke this when
// the logical wait condition is believed unmet; spurious wakeups are
// possible and the condition must be re-checked by the caller after return.
//
// There is no maintained high-level wrapper for the futex syscall among this
// module's dependencies, so this stays on the raw syscall, same as the
// reference transport's shm_futex_linux.go.
func futexWait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	_, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		0, 0, 0,
	)
	return translateFutexErrno(errno)
}

// futexWaitTimeout is futexWait bounded by timeoutNs nanoseconds.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return futexWait(addr, val)
	}
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	ts := syscall.NsecToTimespec(timeoutNs)
	_, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	if errno == syscall.ETIMEDOUT {
		return ErrFutexTimeout
	}
	return translateFutexErrno(errno)
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := syscall.RawSyscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeShared,
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake: %w", errno)
	}
	return int(r1), nil
}

func translateFutexErrno(errno syscall.Errno) error {
	if errno == 0 || errno == syscall.EAGAIN || errno == syscall.EINTR {
		return nil
	}
	return fmt.Errorf("futex wait: %w", errno)
}
