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
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	unmapMemory = munmapImpl
}

func candidatePaths(name string) []string {
	return []string{
		filepath.Join("/dev/shm", "am_shm_"+name),
		filepath.Join(os.TempDir(), "am_shm_"+name),
	}
}

func generateSegmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "am_shm_"+name)
	}
	return filepath.Join(os.TempDir(), "am_shm_"+name)
}

// CreateSegment creates and initializes a new shared-memory segment backing
// a duplex pair of rings, sized ringACap/ringBCap bytes each (power of two).
func CreateSegment(name string, ringACap, ringBCap uint64) (*Segment, error) {
	path := generateSegmentPath(name)

	totalSize, ringAOff, ringBOff, err := CalculateSegmentLayout(ringACap, ringBCap)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap segment: %w", err)
	}

	seg := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		H:    &hdrView{basePtr: unsafe.Pointer(&mem[0])},
		A:    &ringView{basePtr: unsafe.Pointer(&mem[0]), offset: ringAOff},
		B:    &ringView{basePtr: unsafe.Pointer(&mem[0]), offset: ringBOff},
	}

	hdr := seg.H.header()
	hdr.magic = [8]byte{'A', 'M', 'S', 'T', 'R', 'M', 0, 0}
	hdr.version = SegmentVersion
	hdr.totalSize = totalSize
	hdr.ringAOff = ringAOff
	hdr.ringACap = ringACap
	hdr.ringBOff = ringBOff
	hdr.ringBCap = ringBCap
	hdr.acceptorPID = uint32(os.Getpid())
	hdr.acceptorRdy = 1

	seg.A.header().capacity = ringACap
	seg.B.header().capacity = ringBCap

	return seg, nil
}

// OpenSegment attaches to an existing segment previously created by
// CreateSegment, validating its header before handing it back.
func OpenSegment(name string) (*Segment, error) {
	path := generateSegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", info.Size())
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap segment: %w", err)
	}

	hdr := &hdrView{basePtr: unsafe.Pointer(&mem[0])}
	if err := validateSegmentHeader(hdr.header()); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header: %w", err)
	}

	seg := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		H:    hdr,
		A:    &ringView{basePtr: unsafe.Pointer(&mem[0]), offset: hdr.header().ringAOff},
		B:    &ringView{basePtr: unsafe.Pointer(&mem[0]), offset: hdr.header().ringBOff},
	}
	seg.H.header().initiatorPID = uint32(os.Getpid())
	seg.H.header().initiatorRdy = 1

	return seg, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
