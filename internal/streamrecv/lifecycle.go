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

// EpInit resets ep's receive state: empties match_q and clears the ready
// list link. Called once when an endpoint is first registered with the
// worker; Worker.Endpoint already does this for a newly created Endpoint,
// so EpInit is only needed when an Endpoint is being recycled for a new
// connection identity.
func (w *Worker) EpInit(ep *Endpoint) {
	release := w.enter()
	defer release()
	if ep.isQueued() {
		w.ready.dequeueReady(ep)
	}
	ep.init()
}

// EpActivate transitions ep to usable. If the STREAM feature is enabled,
// data is already present, and the endpoint is not yet on the ready list,
// it joins the ready list now; endpoints receiving data before activation
// accumulate it on match_q without appearing on the ready list; only after
// activation do they become progress-eligible (§9 open questions — this
// must hold to avoid a lost wakeup for data that arrived early).
func (w *Worker) EpActivate(ep *Endpoint) {
	release := w.enter()
	defer release()
	ep.setUsed()
	if w.streamFeature && ep.hasData() && !ep.isQueued() {
		w.ready.enqueueReady(ep)
	}
}

// EpCleanup drains and releases every unmatched descriptor, removes ep from
// the ready list, and completes every still-posted request with status.
// Post-condition: match_q empty, HAS_DATA clear, IS_QUEUED clear. status is
// typically a cancellation or connection-teardown error; it becomes the
// completion status of every pending request.
func (w *Worker) EpCleanup(ep *Endpoint, status error) {
	release := w.enter()
	defer release()

	for {
		d := ep.popDesc()
		if d == nil {
			break
		}
		d.release()
	}

	if ep.isQueued() {
		w.ready.dequeueReady(ep)
	}

	for {
		req := ep.popReq()
		if req == nil {
			break
		}
		req.complete(status)
	}
}

// EpForget removes ep from the worker's registry entirely. Call it only
// after EpCleanup, and only once the transport knows ep's id will never be
// reused (the connection it named is gone for good) — a later
// Worker.Endpoint call for the same id then allocates a fresh Endpoint
// rather than finding stale state.
func (w *Worker) EpForget(ep *Endpoint) {
	w.forgetEndpoint(ep.id)
}
