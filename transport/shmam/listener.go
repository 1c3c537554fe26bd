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
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/mem"

	"github.com/streamrecv/engine/internal/streamrecv"
)

// Addr identifies one end of a shmam segment by its base name.
type Addr struct{ Name string }

// Network returns the address's network type, "shmam".
func (a *Addr) Network() string { return "shmam" }

// String returns the segment base name.
func (a *Addr) String() string { return a.Name }

// Listener accepts initiator connections, creating a fresh acceptor-side
// segment for each one and handing each accepted Conn a fresh endpoint id
// into the bound Worker before starting its fragment pump.
type Listener struct {
	baseName string
	worker   *streamrecv.Worker
	nextEpID atomic.Uint64

	ringACap, ringBCap uint64
}

// NewListener prepares a Listener that will create one segment per Accept
// call, named "<baseName>-<n>", with the given per-ring capacities.
func NewListener(baseName string, worker *streamrecv.Worker, ringACap, ringBCap uint64) *Listener {
	return &Listener{baseName: baseName, worker: worker, ringACap: ringACap, ringBCap: ringBCap}
}

// Accept creates a new segment, blocks until an initiator attaches to it,
// and returns the bound endpoint along with a Pump the caller must Run to
// start delivering its fragments into the Worker.
func (l *Listener) Accept(ctx context.Context) (*streamrecv.Endpoint, *Pump, error) {
	n := l.nextEpID.Add(1)
	name := fmt.Sprintf("%s-%d", l.baseName, n)

	seg, err := CreateSegment(name, l.ringACap, l.ringBCap)
	if err != nil {
		return nil, nil, fmt.Errorf("shmam: create segment %s: %w", name, err)
	}

	if err := seg.WaitForInitiator(ctx); err != nil {
		seg.Close()
		RemoveSegment(name)
		return nil, nil, fmt.Errorf("shmam: wait for initiator on %s: %w", name, err)
	}

	conn := NewAcceptorConn(seg)
	ep := l.worker.Endpoint(n)
	l.worker.EpActivate(ep)

	return ep, NewPump(conn, streamrecv.NewAMHandler(l.worker)), nil
}

// Dial creates an initiator connection against an already-created segment
// named name, waiting for the acceptor to signal readiness.
func Dial(ctx context.Context, name string) (*Conn, error) {
	seg, err := OpenSegment(name)
	if err != nil {
		return nil, fmt.Errorf("shmam: open segment %s: %w", name, err)
	}
	if err := seg.WaitForAcceptor(ctx); err != nil {
		seg.Close()
		return nil, fmt.Errorf("shmam: wait for acceptor on %s: %w", name, err)
	}
	return NewInitiatorConn(seg), nil
}

// Pump reads AM fragments off a Conn and delivers them into a bound
// AMHandler until the connection closes or its context is canceled.
type Pump struct {
	conn    *Conn
	handler *streamrecv.AMHandler
	pool    mem.BufferPool

	// released counts descriptors this pump handed the engine (Desc=true)
	// that have since been released back to the pump's own pool via the
	// ReleaseHook it attaches to each such AMFragment, rather than the
	// engine's internal descriptor pool. This is the transport-side half of
	// the release_desc_offset/headroom contract (see AMFragment.ReleaseHook
	// in DESIGN.md): the engine never needs to know this counter exists.
	released atomic.Uint64
}

// NewPump binds a fragment pump between conn and handler, using the default
// buffer pool for the copies it makes out of ring memory.
func NewPump(conn *Conn, handler *streamrecv.AMHandler) *Pump {
	return &Pump{conn: conn, handler: handler, pool: mem.DefaultBufferPool()}
}

// Released returns how many ownable fragments this pump has seen fully
// released by the engine back into the pump's own pool.
func (p *Pump) Released() uint64 { return p.released.Load() }

// Run drives the pump until ReadFragment returns an error (connection
// closed, or ctx done), which it returns to the caller. Intended to be
// supervised by an errgroup.Group alongside sibling connections' pumps.
func (p *Pump) Run(ctx context.Context) error {
	for {
		fh, payload, err := ReadFragment(ctx, p.conn)
		if err != nil {
			return err
		}
		buf := mem.Copy(payload, p.pool)
		ownable := fh.Flags&FrameOwnable != 0
		var hook func()
		if ownable {
			hook = func() {
				buf.Free()
				p.released.Add(1)
			}
		}
		p.handler.Deliver(streamrecv.AMFragment{
			EndpointID:  fh.EndpointID,
			Payload:     buf,
			Desc:        ownable,
			ReleaseHook: hook,
		})
	}
}

// Server runs a Listener's accept loop, spawning one supervised pump per
// accepted connection under a shared errgroup so a single misbehaving peer
// doesn't take the others down silently.
type Server struct {
	ln *Listener
}

// NewServer wraps ln for repeated Accept-and-pump service.
func NewServer(ln *Listener) *Server { return &Server{ln: ln} }

// Serve accepts connections until ctx is done, running each connection's
// pump in its own goroutine under g.
func (s *Server) Serve(ctx context.Context, g *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ep, pump, err := s.ln.Accept(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := pump.Run(ctx)
			s.ln.worker.EpCleanup(ep, err)
			s.ln.worker.EpForget(ep)
			return err
		})
	}
}
