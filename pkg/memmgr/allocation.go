// Copyright 2023 The gVisor Authors.
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

package memmgr

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rocm-thunk/kfdthunk/internal/log"
)

// Allocation is the RAII handle for one MemoryManager-backed allocation.
// Close unwinds every step of the allocation sequence, tolerating failure
// at each one per spec.md §4.4.
type Allocation struct {
	manager *MemoryManager

	ptr      uintptr
	mmapBase uintptr
	size     uint64
	va       uint64
	handle   uint64
	nodeID   uint32
	flags    AllocFlags

	leakCleanup runtime.Cleanup
	closeOnce   sync.Once
}

// Pointer returns the CPU-mapped address, or 0 if this allocation has no
// CPU mapping (device-only memory).
func (a *Allocation) Pointer() uintptr { return a.ptr }

// Size returns the allocation's rounded-up byte size.
func (a *Allocation) Size() uint64 { return a.size }

// GPUVA returns the GPU virtual address backing this allocation.
func (a *Allocation) GPUVA() uint64 { return a.va }

// Handle returns the kernel memory handle, as used by queue/doorbell
// plumbing that needs to reference this allocation by id.
func (a *Allocation) Handle() uint64 { return a.handle }

// Bytes views the allocation's CPU mapping as a byte slice. Panics if
// there is no CPU mapping; callers must check Pointer() first for
// device-only allocations.
func (a *Allocation) Bytes() []byte {
	if a.ptr == 0 {
		panic("memmgr: Bytes called on a device-only allocation")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(a.ptr)), a.size)
}

// AddPointerOffset advances the allocation's CPU-mapped pointer by off
// bytes. Used for SOC15 doorbell pages, where the kernel's mmap offset
// addresses the start of a shared doorbell page and the individual
// queue's doorbell sits at a byte offset within it.
func (a *Allocation) AddPointerOffset(off uint64) {
	if a.mmapBase == 0 {
		a.mmapBase = a.ptr
	}
	a.ptr = a.mmapBase + uintptr(off)
}

func (a *Allocation) mmapUnmapBase() uintptr {
	if a.mmapBase != 0 {
		return a.mmapBase
	}
	return a.ptr
}

// Close unwinds the allocation: munmap, VA reclamation, GPU unmap, and
// kernel free, each step tolerant of the previous one's failure so that
// as much of the resource is reclaimed as possible.
func (a *Allocation) Close() error {
	a.closeOnce.Do(func() {
		a.leakCleanup.Stop()
		if a.manager == nil {
			// A detached allocation, constructed directly rather than
			// through a MemoryManager (test doubles in downstream
			// packages). There is no real mapping or kernel state to
			// unwind.
			return
		}
		if a.ptr != 0 {
			if err := munmap(uint64(a.mmapUnmapBase()), a.size); err != nil {
				log.Warningf("memmgr: munmap(va=%#x): %v", a.va, err)
			}
		}

		a.manager.mu.Lock()
		defer a.manager.mu.Unlock()

		a.manager.freeVAFromFlags(a.va, a.size, a.flags, a.nodeID)

		gpuID := a.manager.nodeToGPUID[a.nodeID]
		if err := a.manager.device.UnmapMemoryFromGPU(a.handle, []uint32{gpuID}); err != nil {
			log.Warningf("memmgr: unmap_memory_from_gpu(handle=%d): %v", a.handle, err)
		}

		if err := a.manager.device.FreeMemoryOfGPU(a.handle); err != nil && !errors.Is(err, unix.EPERM) {
			log.Warningf("memmgr: free_memory_of_gpu(handle=%d): %v", a.handle, err)
		}
	})
	return nil
}

// installFinalizer registers a leak-log backstop. It never reclaims VA or
// touches the manager itself: running manager-mutex-holding work from an
// arbitrary finalizer goroutine risks deadlocking against a live Close
// elsewhere, so it only reports that a caller forgot to Close.
func (a *Allocation) installFinalizer() {
	a.leakCleanup = runtime.AddCleanup(a, func(handle uint64) {
		log.Warningf("memmgr: allocation (handle=%d) was garbage collected without Close", handle)
	}, a.handle)
}
