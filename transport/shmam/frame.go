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
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/grpc/metadata"
)

// On-wire AM frame header (16 bytes, little-endian):
//
//	uint32 length     payload length in bytes, excludes this header
//	uint64 endpointID  logical endpoint the payload is addressed to
//	uint8  flags       FrameOwnable, ...
//	uint8  reserved
//	uint16 reserved2
const frameHeaderSize = 16

// Frame flags.
const (
	// FrameOwnable indicates the transport is lending the payload buffer to
	// the receiver rather than requiring it to be copied out before the
	// frame header is acknowledged (mirrors UCT_CB_PARAM_FLAG_DESC).
	FrameOwnable uint8 = 0x01
	// FrameAttach marks a handshake frame carrying endpoint attach metadata
	// rather than stream payload.
	FrameAttach uint8 = 0x02
)

// FrameHeader is the decoded form of the 16-byte AM frame header.
type FrameHeader struct {
	Length     uint32
	EndpointID uint64
	Flags      uint8
}

func encodeFrameHeader(fh FrameHeader) [frameHeaderSize]byte {
	var b [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], fh.Length)
	binary.LittleEndian.PutUint64(b[4:12], fh.EndpointID)
	b[12] = fh.Flags
	return b
}

func decodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < frameHeaderSize {
		return FrameHeader{}, errors.New("shmam: frame header too short")
	}
	return FrameHeader{
		Length:     binary.LittleEndian.Uint32(b[0:4]),
		EndpointID: binary.LittleEndian.Uint64(b[4:12]),
		Flags:      b[12],
	}, nil
}

// WriteFragment sends one AM fragment addressed to endpointID.
func WriteFragment(ctx context.Context, c *Conn, endpointID uint64, payload []byte, flags uint8) error {
	hdr := encodeFrameHeader(FrameHeader{Length: uint32(len(payload)), EndpointID: endpointID, Flags: flags})
	if err := c.Write(ctx, hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if err := c.Write(ctx, payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFragment blocks for the next full AM fragment off the connection.
func ReadFragment(ctx context.Context, c *Conn) (FrameHeader, []byte, error) {
	var hb [frameHeaderSize]byte
	if err := c.ReadExact(ctx, hb[:]); err != nil {
		return FrameHeader{}, nil, err
	}
	fh, err := decodeFrameHeader(hb[:])
	if err != nil {
		return FrameHeader{}, nil, err
	}
	var payload []byte
	if fh.Length > 0 {
		payload = make([]byte, fh.Length)
		if err := c.ReadExact(ctx, payload); err != nil {
			return FrameHeader{}, nil, err
		}
	}
	return fh, payload, nil
}

// AttachV1 is the handshake payload exchanged once per endpoint before any
// stream data flows, carrying endpoint-scoped metadata the same shape as
// gRPC's metadata.MD (key -> repeated string values).
type AttachV1 struct {
	EndpointName string
	MD           metadata.MD
}

// EncodeAttach serializes an AttachV1 handshake payload.
func EncodeAttach(a AttachV1) []byte {
	size := 4 + len(a.EndpointName) + 2
	keys := make([]string, 0, len(a.MD))
	for k := range a.MD {
		keys = append(keys, k)
		size += 2 + len(k) + 2
		for _, v := range a.MD[k] {
			size += 4 + len(v)
		}
	}
	out := make([]byte, size)
	i := 0
	binary.LittleEndian.PutUint32(out[i:i+4], uint32(len(a.EndpointName)))
	i += 4
	i += copy(out[i:], a.EndpointName)
	binary.LittleEndian.PutUint16(out[i:i+2], uint16(len(keys)))
	i += 2
	for _, k := range keys {
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(len(k)))
		i += 2
		i += copy(out[i:], k)
		vals := a.MD[k]
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(len(vals)))
		i += 2
		for _, v := range vals {
			binary.LittleEndian.PutUint32(out[i:i+4], uint32(len(v)))
			i += 4
			i += copy(out[i:], v)
		}
	}
	return out[:i]
}

// DecodeAttach parses an AttachV1 handshake payload produced by EncodeAttach.
func DecodeAttach(b []byte) (AttachV1, error) {
	var a AttachV1
	if len(b) < 4 {
		return a, errors.New("shmam: attach payload too short")
	}
	i := 0
	nameLen := int(binary.LittleEndian.Uint32(b[i : i+4]))
	i += 4
	if len(b[i:]) < nameLen+2 {
		return a, errors.New("shmam: attach name/keyCount missing")
	}
	a.EndpointName = string(b[i : i+nameLen])
	i += nameLen
	keyCount := int(binary.LittleEndian.Uint16(b[i : i+2]))
	i += 2
	a.MD = metadata.MD{}
	for k := 0; k < keyCount; k++ {
		if len(b[i:]) < 2 {
			return a, errors.New("shmam: attach keyLen missing")
		}
		keyLen := int(binary.LittleEndian.Uint16(b[i : i+2]))
		i += 2
		if len(b[i:]) < keyLen+2 {
			return a, errors.New("shmam: attach key/valCount missing")
		}
		key := string(b[i : i+keyLen])
		i += keyLen
		valCount := int(binary.LittleEndian.Uint16(b[i : i+2]))
		i += 2
		vals := make([]string, 0, valCount)
		for v := 0; v < valCount; v++ {
			if len(b[i:]) < 4 {
				return a, errors.New("shmam: attach value length missing")
			}
			l := int(binary.LittleEndian.Uint32(b[i : i+4]))
			i += 4
			if len(b[i:]) < l {
				return a, errors.New("shmam: attach value bytes missing")
			}
			vals = append(vals, string(b[i:i+l]))
			i += l
		}
		a.MD[key] = vals
	}
	return a, nil
}
