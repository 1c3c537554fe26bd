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

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/streamrecv/engine/internal/streamrecv"
	"github.com/streamrecv/engine/transport/shmam"
)

func main() {
	segName := fmt.Sprintf("streamrecv-debug-%d", time.Now().UnixNano())

	seg, err := shmam.CreateSegment(segName, 65536, 65536)
	if err != nil {
		log.Fatalf("create segment: %v", err)
	}
	defer func() {
		seg.Close()
		shmam.RemoveSegment(segName)
	}()

	worker := streamrecv.NewWorker(streamrecv.DefaultWorkerOptions())
	ep := worker.Endpoint(1)
	worker.EpActivate(ep)

	acceptor := shmam.NewAcceptorConn(seg)
	handler := streamrecv.NewAMHandler(worker)
	pump := shmam.NewPump(acceptor, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		if err := pump.Run(ctx); err != nil {
			log.Printf("pump stopped: %v", err)
		}
	}()

	// This demo drives both ends of the segment from a single process, so
	// it skips the cross-process WaitForInitiator/WaitForAcceptor
	// handshake that a real acceptor and initiator would perform.
	initiator := shmam.NewInitiatorConn(seg)

	fmt.Println("=== recv_nbx before data arrives ===")
	dest := make([]byte, 13)
	_, handle, err := worker.Recv(ep, &streamrecv.Datatype{Class: streamrecv.DTContig, ElemSize: 1, Contig: dest}, streamrecv.RecvParams{Flags: streamrecv.RecvWaitAll})
	if err != nil {
		log.Fatalf("Recv: %v", err)
	}
	fmt.Printf("posted pending request, handle=%v\n", handle != nil)

	if err := shmam.WriteFragment(ctx, initiator, ep.ID(), []byte("hello, world!"), 0); err != nil {
		log.Fatalf("write fragment: %v", err)
	}

	n, err := handle.Wait()
	if err != nil {
		log.Fatalf("handle.Wait: %v", err)
	}
	fmt.Printf("completed length=%d data=%q\n", n, dest[:n])

	fmt.Println("=== zero-copy recv_data_nb/data_release ===")
	if err := shmam.WriteFragment(ctx, initiator, ep.ID(), []byte("zero-copy payload"), 0); err != nil {
		log.Fatalf("write fragment: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the pump deliver before polling

	res, err := worker.RecvDataNB(ep)
	if err != nil {
		log.Fatalf("RecvDataNB: %v", err)
	}
	fmt.Printf("lent %d bytes: %q\n", len(res.Data), res.Data)
	worker.DataRelease(res)

	worker.EpCleanup(ep, nil)
	fmt.Println("done")
}
