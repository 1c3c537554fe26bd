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

import (
	"sync"

	"google.golang.org/grpc/mem"
)

// WorkerOptions configures a Worker at construction.
type WorkerOptions struct {
	// MultiThread selects whether the worker's conditional critical section
	// is a real mutex (multiple goroutines call into the engine) or a
	// no-op (the caller guarantees single-threaded access, e.g. one
	// progress goroutine that also happens to service recv calls).
	MultiThread bool

	// StreamFeatureEnabled gates every public entry point: a worker without
	// the feature rejects calls with INVALID_PARAM, mirroring a build
	// without UCP_FEATURE_STREAM negotiated.
	StreamFeatureEnabled bool

	// BufferPool backs descriptor allocation; defaults to
	// mem.DefaultBufferPool() when nil.
	BufferPool mem.BufferPool

	// MaxPendingRequests caps how many posted (unsatisfied) requests a
	// single endpoint may accumulate at once. A Recv call that would push
	// the count past this limit fails with NO_MEMORY instead of posting.
	// Zero means unlimited. This is the engine's own allocation-failure
	// path for §7's NO_MEMORY status (a posted request is the only engine
	// object recv_nbx allocates that a caller can cause to pile up
	// unboundedly; Go's allocator has no user-visible exhaustion point, so
	// this bound is what makes NO_MEMORY reachable at all).
	MaxPendingRequests int
}

// DefaultWorkerOptions returns the options a single-threaded worker with the
// STREAM feature enabled would use.
func DefaultWorkerOptions() *WorkerOptions {
	return &WorkerOptions{
		StreamFeatureEnabled: true,
	}
}

// Worker owns the ready-endpoint scheduler, the descriptor pool, and the
// endpoint registry for one progress scope. It is the unit across which the
// conditional critical section (§5) is scoped: single-threaded workers pay
// nothing to enter it, multi-thread workers serialize every entry point
// behind one mutex.
type Worker struct {
	multiThread bool
	mu          sync.Mutex

	streamFeature      bool
	pool               *descPool
	ready              readyList
	maxPendingRequests int

	epMu      sync.Mutex // guards the endpoints map only; never held across enter()
	endpoints map[uint64]*Endpoint
}

// NewWorker constructs a Worker. A nil opts is equivalent to
// DefaultWorkerOptions().
func NewWorker(opts *WorkerOptions) *Worker {
	if opts == nil {
		opts = DefaultWorkerOptions()
	}
	return &Worker{
		multiThread:        opts.MultiThread,
		streamFeature:      opts.StreamFeatureEnabled,
		pool:               newDescPool(opts.BufferPool),
		endpoints:          make(map[uint64]*Endpoint),
		maxPendingRequests: opts.MaxPendingRequests,
	}
}

// enter acquires the conditional critical section and returns the matching
// release function. In a single-thread worker this is a no-op pair; every
// public entry point (recv_nbx, recv_data_nb, data_release, the AM handler)
// must call it on entry and defer the release.
func (w *Worker) enter() func() {
	if !w.multiThread {
		return func() {}
	}
	w.mu.Lock()
	return w.mu.Unlock
}

// Endpoint looks up or lazily creates the Endpoint for id. Endpoint identity
// is owned by the transport collaborator; the engine only tracks per-id
// receive state.
func (w *Worker) Endpoint(id uint64) *Endpoint {
	w.epMu.Lock()
	defer w.epMu.Unlock()
	ep, ok := w.endpoints[id]
	if !ok {
		ep = &Endpoint{id: id}
		ep.init()
		w.endpoints[id] = ep
	}
	return ep
}

// lookupEndpoint returns the Endpoint for id without creating one, used by
// the AM handler which must drop fragments for unknown endpoints silently.
func (w *Worker) lookupEndpoint(id uint64) (*Endpoint, bool) {
	w.epMu.Lock()
	defer w.epMu.Unlock()
	ep, ok := w.endpoints[id]
	return ep, ok
}

// forgetEndpoint removes id from the registry, called once its cleanup has
// completed and the transport has no further use for it.
func (w *Worker) forgetEndpoint(id uint64) {
	w.epMu.Lock()
	defer w.epMu.Unlock()
	delete(w.endpoints, id)
}
