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
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	want := FrameHeader{Length: 1234, EndpointID: 0xdeadbeef, Flags: FrameOwnable}
	enc := encodeFrameHeader(want)
	got, err := decodeFrameHeader(enc[:])
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeFrameHeaderTooShort(t *testing.T) {
	if _, err := decodeFrameHeader(make([]byte, 4)); err == nil {
		t.Fatalf("expected error decoding a short header")
	}
}

func TestAttachRoundTrip(t *testing.T) {
	want := AttachV1{
		EndpointName: "ep-1",
		MD: metadata.MD{
			"x-service": []string{"streamrecv"},
			"x-trace":   []string{"a", "b", "c"},
		},
	}
	enc := EncodeAttach(want)
	got, err := DecodeAttach(enc)
	if err != nil {
		t.Fatalf("DecodeAttach: %v", err)
	}
	if got.EndpointName != want.EndpointName {
		t.Fatalf("EndpointName = %q, want %q", got.EndpointName, want.EndpointName)
	}
	for k, v := range want.MD {
		gv, ok := got.MD[k]
		if !ok {
			t.Fatalf("missing key %q after round trip", k)
		}
		if len(gv) != len(v) {
			t.Fatalf("key %q: got %v, want %v", k, gv, v)
		}
		for i := range v {
			if gv[i] != v[i] {
				t.Fatalf("key %q[%d]: got %q, want %q", k, i, gv[i], v[i])
			}
		}
	}
}

func TestAttachEmptyMetadata(t *testing.T) {
	want := AttachV1{EndpointName: "solo"}
	enc := EncodeAttach(want)
	got, err := DecodeAttach(enc)
	if err != nil {
		t.Fatalf("DecodeAttach: %v", err)
	}
	if got.EndpointName != "solo" || len(got.MD) != 0 {
		t.Fatalf("got %+v, want EndpointName=solo empty MD", got)
	}
}
