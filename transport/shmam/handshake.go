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
	"sync/atomic"
	"time"
)

// WaitForInitiator blocks until the initiator has attached to the segment,
// or ctx is done. The acceptor calls this after CreateSegment.
func (s *Segment) WaitForInitiator(ctx context.Context) error {
	return waitForFlag(ctx, &s.H.header().initiatorRdy)
}

// WaitForAcceptor blocks until the acceptor has marked the segment ready,
// or ctx is done. The initiator calls this after OpenSegment.
func (s *Segment) WaitForAcceptor(ctx context.Context) error {
	return waitForFlag(ctx, &s.H.header().acceptorRdy)
}

func waitForFlag(ctx context.Context, flag *uint32) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadUint32(flag) != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
