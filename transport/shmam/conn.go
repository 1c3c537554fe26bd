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
	"os"
	"sync/atomic"
)

// ErrConnectionClosed is returned by Conn operations after Close.
var ErrConnectionClosed = errors.New("shmam: connection closed")

// Conn is a duplex byte pipe backed by the two rings of a Segment.
// The acceptor (segment creator) reads ring A and writes ring B; the
// initiator reads ring B and writes ring A.
type Conn struct {
	seg       *Segment
	readR     *Ring
	writeR    *Ring
	readView  *ringView
	writeView *ringView
	closed    atomic.Bool
	isAcceptor bool
}

// NewAcceptorConn returns the acceptor-side view of seg's duplex pipe.
func NewAcceptorConn(seg *Segment) *Conn {
	return &Conn{
		seg:        seg,
		readR:      NewRingFromSegment(seg.A, seg.Mem),
		writeR:     NewRingFromSegment(seg.B, seg.Mem),
		readView:   seg.A,
		writeView:  seg.B,
		isAcceptor: true,
	}
}

// NewInitiatorConn returns the initiator-side view of seg's duplex pipe.
func NewInitiatorConn(seg *Segment) *Conn {
	return &Conn{
		seg:       seg,
		readR:     NewRingFromSegment(seg.B, seg.Mem),
		writeR:    NewRingFromSegment(seg.A, seg.Mem),
		readView:  seg.B,
		writeView: seg.A,
	}
}

// ReadExact blocks until exactly len(p) bytes are read from the connection.
func (c *Conn) ReadExact(ctx context.Context, p []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := c.readR.ReadExact(ctx, p); err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

// Write blocks until all of p has been queued on the outbound ring.
func (c *Conn) Write(ctx context.Context, p []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := c.writeR.WriteBlockingContext(ctx, p); err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

// Close closes both rings and, if this side created the segment, removes its
// backing file once unmapped.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.readR.Close()
	c.writeR.Close()
	err := c.seg.Close()
	if c.isAcceptor {
		os.Remove(c.seg.Path)
	}
	return err
}
