// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a mapped POSIX shared-memory segment: one segment per VIP,
// named shm_vip_<vip-id>, holding the outbound telemetry ring and the
// inbound weight ring side by side.
//
// Region owns the mapping, not the segment's lifetime in /dev/shm: the
// data-plane side creates and unlinks it (owner == true); a consumer
// process only opens and unmaps it (owner == false).
type Region struct {
	name   string
	fd     int
	data   []byte
	layout Layout
	owner  bool
}

// path mirrors the source's shm_open naming: one segment per VIP under
// /dev/shm.
func path(name string) string {
	return "/dev/shm/" + name
}

// CreateRegion creates and maps a fresh segment for a VIP, truncating it
// to RegionSize and zeroing the layout (shm_open|O_CREAT + ftruncate,
// per original_source stats.c shm_vip_init_mem). The caller owns the
// segment: Close unlinks it.
func CreateRegion(name string) (*Region, error) {
	fd, err := unix.Open(path(name), unix.O_CREAT|unix.O_RDWR, 0777)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	if err := unix.Ftruncate(fd, RegionSize); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %s: %w", name, err)
	}
	r, err := mapRegion(name, fd, true)
	if err != nil {
		return nil, err
	}
	clear(r.data)
	return r, nil
}

// OpenRegion maps an existing segment for read/write without taking
// ownership of its lifetime; used by a consumer process.
func OpenRegion(name string) (*Region, error) {
	fd, err := unix.Open(path(name), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	return mapRegion(name, fd, false)
}

func mapRegion(name string, fd int, owner bool) (*Region, error) {
	data, err := unix.Mmap(fd, 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Region{
		name:   name,
		fd:     fd,
		data:   data,
		layout: ComputeLayout(),
		owner:  owner,
	}, nil
}

// Close unmaps the segment and, if this Region created it, unlinks the
// backing /dev/shm entry (shm_vip_del_mem's munmap + close + shm_unlink
// order, in that order so no caller can race a reopen against a
// half-torn-down mapping).
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", r.name, err)
	}
	if err := unix.Close(r.fd); err != nil {
		return fmt.Errorf("shm: close %s: %w", r.name, err)
	}
	if r.owner {
		if err := unix.Unlink(path(r.name)); err != nil {
			return fmt.Errorf("shm: unlink %s: %w", r.name, err)
		}
	}
	return nil
}

// field returns a typed pointer at the given byte offset within the
// layout region (i.e. past the reserved RegionOffset header).
func field[T any](r *Region, offset uintptr) *T {
	base := uintptr(unsafe.Pointer(&r.data[RegionOffset]))
	return (*T)(unsafe.Pointer(base + offset))
}

// NAs returns the active-backend count byte.
func (r *Region) NAs() *uint8 { return field[uint8](r, r.layout.NAsOffset) }

// RefLB returns the per-VIP reference block.
func (r *Region) RefLB() *RefLB { return field[RefLB](r, r.layout.RefLBOffset) }

// RefAS returns the reference block for backend index i (0 <= i < ASMax).
func (r *Region) RefAS(i int) *RefAS {
	return field[RefAS](r, r.layout.RefASOffset+uintptr(i)*unsafe.Sizeof(RefAS{}))
}

// MsgOutCache returns the scratch frame the publisher builds in place
// before sealing it into a ring slot.
func (r *Region) MsgOutCache() *MsgOut { return field[MsgOut](r, r.layout.MsgOutCacheOffset) }

// MsgOutFrame returns ring slot i (0 <= i < RingDepth) of the outbound
// telemetry ring.
func (r *Region) MsgOutFrame(i int) *MsgOut {
	return field[MsgOut](r, r.layout.MsgOutFramesOffset+uintptr(i)*unsafe.Sizeof(MsgOut{}))
}

// ResLB returns the per-VIP reservoir block.
func (r *Region) ResLB() *ReservoirLB { return field[ReservoirLB](r, r.layout.ResLBOffset) }

// ResAS returns the reservoir block for backend index i.
func (r *Region) ResAS(i int) *ReservoirAS {
	return field[ReservoirAS](r, r.layout.ResASOffset+uintptr(i)*unsafe.Sizeof(ReservoirAS{}))
}

// MsgInCache returns the scratch frame a consumer builds before sealing
// a new weight update into the inbound ring.
func (r *Region) MsgInCache() *MsgIn { return field[MsgIn](r, r.layout.MsgInCacheOffset) }

// MsgInFrame returns ring slot i of the inbound weight ring.
func (r *Region) MsgInFrame(i int) *MsgIn {
	return field[MsgIn](r, r.layout.MsgInFramesOffset+uintptr(i)*unsafe.Sizeof(MsgIn{}))
}
