package shmam

import "errors"

// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
var ErrFutexTimeout = errors.New("shmam: futex wait timed out")

// ErrFutexUnsupported is returned on platforms without a futex syscall.
var ErrFutexUnsupported = errors.New("shmam: futex operations not supported on this platform")
