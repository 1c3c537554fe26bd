//go:build unix

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
	"testing"
	"time"

	"github.com/streamrecv/engine/internal/streamrecv"
)

// TestPumpDeliversIntoEngine exercises the full path from a raw fragment
// write on one side of a Conn through the Pump and into a posted
// streamrecv request on the other side, without going through Listener's
// create-and-wait accept flow (single process, one segment, both Conn views).
func TestPumpDeliversIntoEngine(t *testing.T) {
	seg := newTestSegment(t)
	acc := NewAcceptorConn(seg)
	ini := NewInitiatorConn(seg)

	worker := streamrecv.NewWorker(streamrecv.DefaultWorkerOptions())
	ep := worker.Endpoint(7)
	worker.EpActivate(ep)

	handler := streamrecv.NewAMHandler(worker)
	pump := NewPump(acc, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go pump.Run(ctx)

	dest := make([]byte, 11)
	_, handle, err := worker.Recv(ep, &streamrecv.Datatype{Class: streamrecv.DTContig, ElemSize: 1, Contig: dest}, streamrecv.RecvParams{Flags: streamrecv.RecvWaitAll})
	if err != nil || handle == nil {
		t.Fatalf("expected pending handle, err=%v", err)
	}

	if err := WriteFragment(ctx, ini, ep.ID(), []byte("hello pump!"), 0); err != nil {
		t.Fatalf("WriteFragment: %v", err)
	}

	n, err := handle.Wait()
	if err != nil {
		t.Fatalf("handle.Wait: %v", err)
	}
	if n != 11 || string(dest) != "hello pump!" {
		t.Fatalf("n=%d dest=%q, want 11/\"hello pump!\"", n, dest)
	}
}
