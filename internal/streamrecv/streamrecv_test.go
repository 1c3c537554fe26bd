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
	"bytes"
	"errors"
	"testing"

	"google.golang.org/grpc/mem"
)

func deliver(t *testing.T, h *AMHandler, epID uint64, payload []byte, desc bool) AMResult {
	t.Helper()
	buf := mem.Copy(payload, mem.DefaultBufferPool())
	return h.Deliver(AMFragment{EndpointID: epID, Payload: buf, Desc: desc})
}

// S1: single fragment exact match.
func TestSingleFragmentExactMatch(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(1)
	w.EpActivate(ep)

	buf := make([]byte, 4)
	_, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{})
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if handle == nil {
		t.Fatalf("expected a pending handle")
	}

	deliver(t, h, 1, []byte{'A', 'B', 'C', 'D'}, false)

	n, err := handle.Wait()
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if n != 4 {
		t.Fatalf("completion length = %d, want 4", n)
	}
	if !bytes.Equal(buf, []byte{'A', 'B', 'C', 'D'}) {
		t.Fatalf("buf = %v, want ABCD", buf)
	}
}

// S2: fragmented assembly with WAITALL.
func TestFragmentedAssemblyWaitAll(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(2)
	w.EpActivate(ep)

	buf := make([]byte, 8)
	_, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{Flags: RecvWaitAll})
	if err != nil || handle == nil {
		t.Fatalf("expected pending handle, err=%v", err)
	}

	deliver(t, h, 2, []byte{1, 2, 3}, false)
	if handle.Done() {
		t.Fatalf("handle completed early after partial fragment")
	}
	deliver(t, h, 2, []byte{4, 5}, false)
	if handle.Done() {
		t.Fatalf("handle completed early after second partial fragment")
	}
	deliver(t, h, 2, []byte{6, 7, 8}, false)

	n, err := handle.Wait()
	if err != nil || n != 8 {
		t.Fatalf("n=%d err=%v, want 8/nil", n, err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(buf, want) {
		t.Fatalf("buf = %v, want %v", buf, want)
	}
}

// S3: granularity truncation without WAITALL.
func TestGranularityTruncation(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(3)
	w.EpActivate(ep)

	buf := make([]byte, 12)
	_, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 4, Contig: buf}, RecvParams{})
	if err != nil || handle == nil {
		t.Fatalf("expected pending handle, err=%v", err)
	}

	deliver(t, h, 3, bytes.Repeat([]byte{0xAA}, 10), false)

	n, err := handle.Wait()
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if n != 8 {
		t.Fatalf("completion length = %d, want 8 (aligned down from 10)", n)
	}

	// The remaining 2 bytes must still be queued, satisfying the next
	// receive.
	buf2 := make([]byte, 2)
	res, _, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf2}, RecvParams{})
	if err != nil {
		t.Fatalf("second Recv error: %v", err)
	}
	if res == nil || res.Length != 2 {
		t.Fatalf("second recv result = %+v, want immediate length=2", res)
	}
}

// S4: inplace fast path.
func TestInplaceFastPath(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(4)
	w.EpActivate(ep)

	payload := bytes.Repeat([]byte{0x42}, 16)
	if got := deliver(t, h, 4, payload, false); got != ResultOK {
		t.Fatalf("deliver result = %v", got)
	}

	buf := make([]byte, 16)
	res, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{})
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if handle != nil {
		t.Fatalf("expected immediate completion, got a pending handle")
	}
	if res == nil || res.Length != 16 {
		t.Fatalf("res = %+v, want immediate length=16", res)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("buf = %v, want %v", buf, payload)
	}
	if ep.hasData() {
		t.Fatalf("endpoint should have no data left after fully-consuming inplace recv")
	}
}

// WAITALL must not short-complete off the inplace fast path even when a
// descriptor is already queued and satisfies a whole number of elements:
// §4.4 only takes the inplace path unconditionally when the descriptor
// covers the full requested length; otherwise WAITALL forces NO_PROGRESS
// and a posted, pending request.
func TestInplaceFastPathWaitAllNotSatisfied(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(40)
	w.EpActivate(ep)

	deliver(t, h, 40, []byte{1, 2, 3}, false)

	buf := make([]byte, 8)
	_, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{Flags: RecvWaitAll})
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if handle == nil {
		t.Fatalf("expected a pending handle, WAITALL must not short-complete on partial data")
	}
	if handle.Done() {
		t.Fatalf("handle completed early with only 3 of 8 bytes queued")
	}

	deliver(t, h, 40, []byte{4, 5, 6, 7, 8}, false)

	n, err := handle.Wait()
	if err != nil || n != 8 {
		t.Fatalf("n=%d err=%v, want 8/nil", n, err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(buf, want) {
		t.Fatalf("buf = %v, want %v", buf, want)
	}
}

// S5: zero-copy lend/release.
func TestZeroCopyLendRelease(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(5)
	w.EpActivate(ep)

	payload := bytes.Repeat([]byte{0x7}, 64)
	deliver(t, h, 5, payload, false)

	res, err := w.RecvDataNB(ep)
	if err != nil {
		t.Fatalf("RecvDataNB error: %v", err)
	}
	if len(res.Data) != 64 {
		t.Fatalf("len(res.Data) = %d, want 64", len(res.Data))
	}
	if ep.hasData() {
		t.Fatalf("endpoint should have no data left after RecvDataNB dequeues the only descriptor")
	}

	w.DataRelease(res)
	if res.desc != nil {
		t.Fatalf("descriptor should be cleared after release")
	}
}

// S5 variant: no data queued returns an empty result, not an error.
func TestZeroCopyNoData(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	ep := w.Endpoint(50)
	w.EpActivate(ep)

	res, err := w.RecvDataNB(ep)
	if err != nil {
		t.Fatalf("RecvDataNB error: %v", err)
	}
	if res.Data != nil {
		t.Fatalf("expected nil data, got %v", res.Data)
	}
}

// S6: cleanup with pending requests.
func TestCleanupWithPending(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	ep := w.Endpoint(6)
	w.EpActivate(ep)

	buf1 := make([]byte, 60)
	buf2 := make([]byte, 40)
	_, h1, err1 := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf1}, RecvParams{Flags: RecvWaitAll})
	_, h2, err2 := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf2}, RecvParams{Flags: RecvWaitAll})
	if err1 != nil || err2 != nil || h1 == nil || h2 == nil {
		t.Fatalf("expected two pending handles, err1=%v err2=%v", err1, err2)
	}

	cancelErr := errors.New("endpoint torn down")
	w.EpCleanup(ep, cancelErr)

	if _, err := h1.Wait(); !errors.Is(err, cancelErr) {
		t.Fatalf("h1 completion error = %v, want %v", err, cancelErr)
	}
	if _, err := h2.Wait(); !errors.Is(err, cancelErr) {
		t.Fatalf("h2 completion error = %v, want %v", err, cancelErr)
	}
	if ep.hasData() || ep.isQueued() || !ep.reqsEmpty() {
		t.Fatalf("endpoint state not clean after EpCleanup: hasData=%v isQueued=%v reqsEmpty=%v",
			ep.hasData(), ep.isQueued(), ep.reqsEmpty())
	}
}

// Invariant 4: ready-list membership is idempotent.
func TestReadyListIdempotent(t *testing.T) {
	var rl readyList
	ep := &Endpoint{id: 1}
	rl.enqueueReady(ep)
	rl.enqueueReady(ep)
	if rl.head != ep || rl.tail != ep {
		t.Fatalf("expected single-entry ready list after double enqueue")
	}
	count := 0
	for e := rl.popReadyEndpoint(); e != nil; e = rl.popReadyEndpoint() {
		count++
	}
	if count != 1 {
		t.Fatalf("popped %d entries, want exactly 1", count)
	}
}

// Invariant 3: match_q never holds both descriptors and requests.
func TestQueueExclusivity(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(7)
	w.EpActivate(ep)

	deliver(t, h, 7, []byte{1, 2, 3}, false)
	if !ep.reqsEmpty() || !ep.hasData() {
		t.Fatalf("expected only descriptors queued")
	}

	// Draining via inplace recv should empty descriptors before any
	// request could be posted alongside them.
	buf := make([]byte, 3)
	res, handle, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{})
	if err != nil || handle != nil || res == nil {
		t.Fatalf("expected immediate completion, res=%v handle=%v err=%v", res, handle, err)
	}
	if ep.hasData() {
		t.Fatalf("descriptors should be drained")
	}

	buf2 := make([]byte, 4)
	_, handle2, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf2}, RecvParams{})
	if err != nil || handle2 == nil {
		t.Fatalf("expected a posted request now that no data is queued")
	}
	if ep.hasData() {
		t.Fatalf("descriptors and requests must never coexist")
	}
}

// Generic datatype completes on any partial progress without WAITALL.
type sinkUnpacker struct{ got []byte }

func (s *sinkUnpacker) UnpackAt(offset uint64, src []byte) (int, error) {
	s.got = append(s.got, src...)
	return len(src), nil
}

func TestGenericCompletesOnPartialProgress(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(8)
	w.EpActivate(ep)

	sink := &sinkUnpacker{}
	_, handle, err := w.Recv(ep, &Datatype{Class: DTGeneric, Generic: sink, GenericLen: 8}, RecvParams{})
	if err != nil || handle == nil {
		t.Fatalf("expected pending handle, err=%v", err)
	}

	deliver(t, h, 8, []byte{9, 9, 9}, false)

	n, err := handle.Wait()
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v, want 3/nil", n, err)
	}
}

// Feature gate: a worker without the STREAM feature rejects Recv with
// INVALID_PARAM.
func TestFeatureGate(t *testing.T) {
	w := NewWorker(&WorkerOptions{StreamFeatureEnabled: false})
	ep := w.Endpoint(9)
	buf := make([]byte, 4)
	_, _, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{})
	if !IsInvalidParam(err) {
		t.Fatalf("expected INVALID_PARAM, got %v", err)
	}
}

// FORCE_IMM_CMPL with nothing queued returns NO_RESOURCE.
func TestForceImmediateNoResource(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	ep := w.Endpoint(10)
	buf := make([]byte, 4)
	_, _, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{Flags: RecvForceImmediateCompletion})
	if !IsNoResource(err) {
		t.Fatalf("expected NO_RESOURCE, got %v", err)
	}
}

// Activation gating: data arriving before ep_activate must not join the
// ready list, only becoming progress-eligible after activation.
func TestActivationGating(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(11)

	deliver(t, h, 11, []byte{1, 2, 3}, false)
	if ep.isQueued() {
		t.Fatalf("endpoint must not be ready before activation, even with data queued")
	}
	if !ep.hasData() {
		t.Fatalf("data should still accumulate on match_q before activation")
	}

	w.EpActivate(ep)
	if !ep.isQueued() {
		t.Fatalf("endpoint should join the ready list once activated with data already present")
	}
}

// Unknown endpoint ids are dropped silently.
func TestUnknownEndpointDropped(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	if got := deliver(t, h, 999, []byte{1}, false); got != ResultOK {
		t.Fatalf("deliver to unknown endpoint = %v, want ResultOK", got)
	}
}

// Desc-ownable delivery returns INPROGRESS when the handler has no posted
// request to satisfy inline.
func TestDescOwnableRetained(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(12)
	w.EpActivate(ep)

	if got := deliver(t, h, 12, []byte{1, 2, 3, 4}, true); got != ResultInProgress {
		t.Fatalf("deliver result = %v, want ResultInProgress", got)
	}
}

// Invariant 1/2: byte conservation and order preservation across an IOV
// destination split over two scatter-gather entries and two fragments.
func TestIOVByteConservationAndOrder(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(13)
	w.EpActivate(ep)

	part1 := make([]byte, 3)
	part2 := make([]byte, 5)
	_, handle, err := w.Recv(ep, &Datatype{Class: DTIOV, IOV: [][]byte{part1, part2}}, RecvParams{Flags: RecvWaitAll})
	if err != nil || handle == nil {
		t.Fatalf("expected pending handle, err=%v", err)
	}

	deliver(t, h, 13, []byte{1, 2, 3, 4}, false)
	deliver(t, h, 13, []byte{5, 6, 7, 8}, false)

	n, err := handle.Wait()
	if err != nil || n != 8 {
		t.Fatalf("n=%d err=%v, want 8/nil", n, err)
	}
	if !bytes.Equal(part1, []byte{1, 2, 3}) || !bytes.Equal(part2, []byte{4, 5, 6, 7, 8}) {
		t.Fatalf("part1=%v part2=%v, want split of 1..8", part1, part2)
	}
}

// A transport-owned descriptor's ReleaseHook must run in place of the
// default buf.Free(), exactly once, when DataRelease returns the
// descriptor lent out by RecvDataNB, and not before.
func TestDescriptorReleaseHook(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(50)
	w.EpActivate(ep)

	buf := mem.Copy([]byte{1, 2, 3, 4}, mem.DefaultBufferPool())
	var hookCalls int
	got := h.Deliver(AMFragment{
		EndpointID:  50,
		Payload:     buf,
		Desc:        true,
		ReleaseHook: func() { hookCalls++ },
	})
	if got != ResultInProgress {
		t.Fatalf("deliver result = %v, want ResultInProgress", got)
	}

	res, err := w.RecvDataNB(ep)
	if err != nil {
		t.Fatalf("RecvDataNB: %v", err)
	}
	if !bytes.Equal(res.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("lent data = %v, want 1,2,3,4", res.Data)
	}
	if hookCalls != 0 {
		t.Fatalf("hook fired before DataRelease, calls=%d", hookCalls)
	}

	w.DataRelease(res)
	if hookCalls != 1 {
		t.Fatalf("hook calls = %d after DataRelease, want 1", hookCalls)
	}

	// A second release must not be possible through the public API (res.desc
	// is cleared by DataRelease), so the hook cannot double-fire.
	w.DataRelease(res)
	if hookCalls != 1 {
		t.Fatalf("hook calls = %d after redundant DataRelease, want 1", hookCalls)
	}
}

// Snapshot reports queue depth without mutating it, and distinguishes a
// transport-adopted head descriptor from a pool-copied one.
func TestSnapshot(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(51)
	w.EpActivate(ep)

	if _, ok := h.Snapshot(51); !ok {
		t.Fatalf("expected a snapshot for an activated endpoint")
	}

	deliver(t, h, 51, []byte{1, 2, 3}, false)
	deliver(t, h, 51, []byte{4, 5}, false)

	df, ok := h.Snapshot(51)
	if !ok {
		t.Fatalf("expected a snapshot after delivery")
	}
	if df.QueuedDescriptors != 2 || df.QueuedBytes != 5 {
		t.Fatalf("snapshot = %+v, want 2 descriptors / 5 bytes", df)
	}
	if df.HeadFromTransport {
		t.Fatalf("head descriptor was pool-copied, not transport-adopted")
	}
	if df.PendingRequests != 0 {
		t.Fatalf("snapshot PendingRequests = %d, want 0", df.PendingRequests)
	}

	// Snapshot must not have consumed anything: a subsequent Recv still
	// sees all 5 bytes queued.
	buf := make([]byte, 5)
	res, _, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf}, RecvParams{Flags: RecvWaitAll})
	if err != nil || res == nil || res.Length != 5 {
		t.Fatalf("Recv after snapshot: res=%+v err=%v, want immediate length=5", res, err)
	}

	if _, ok := h.Snapshot(999); ok {
		t.Fatalf("expected no snapshot for an unknown endpoint")
	}
}

// NO_MEMORY fires when a Recv call would push an endpoint's pending request
// count past WorkerOptions.MaxPendingRequests rather than posting anyway.
func TestNoMemoryOnPendingRequestLimit(t *testing.T) {
	opts := DefaultWorkerOptions()
	opts.MaxPendingRequests = 1
	w := NewWorker(opts)
	ep := w.Endpoint(60)
	w.EpActivate(ep)

	buf1 := make([]byte, 4)
	_, handle1, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf1}, RecvParams{Flags: RecvWaitAll})
	if err != nil || handle1 == nil {
		t.Fatalf("first Recv: expected pending handle, err=%v", err)
	}

	buf2 := make([]byte, 4)
	_, handle2, err := w.Recv(ep, &Datatype{Class: DTContig, ElemSize: 1, Contig: buf2}, RecvParams{Flags: RecvWaitAll})
	if handle2 != nil {
		t.Fatalf("second Recv: expected no handle once the pending limit is hit")
	}
	if !IsNoMemory(err) {
		t.Fatalf("second Recv err = %v, want a NO_MEMORY status", err)
	}
}

// EpForget drops an endpoint from the worker's registry; a later Endpoint
// call for the same id allocates a fresh one rather than finding stale
// queue state left over from before cleanup.
func TestEpForget(t *testing.T) {
	w := NewWorker(DefaultWorkerOptions())
	h := NewAMHandler(w)
	ep := w.Endpoint(61)
	w.EpActivate(ep)

	deliver(t, h, 61, []byte{1, 2, 3}, false)
	if df, ok := h.Snapshot(61); !ok || df.QueuedDescriptors != 1 {
		t.Fatalf("snapshot before forget = %+v, ok=%v, want 1 queued descriptor", df, ok)
	}

	w.EpCleanup(ep, nil)
	w.EpForget(ep)

	if _, ok := h.Snapshot(61); ok {
		t.Fatalf("expected no snapshot for a forgotten endpoint")
	}

	fresh := w.Endpoint(61)
	if fresh == ep {
		t.Fatalf("Endpoint(61) returned the forgotten Endpoint instead of a fresh one")
	}
	if fresh.hasData() || !fresh.reqsEmpty() {
		t.Fatalf("fresh endpoint after forget is not clean: hasData=%v reqsEmpty=%v", fresh.hasData(), fresh.reqsEmpty())
	}
}
