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

package signal

import (
	"sync"
	"unsafe"

	"github.com/rocm-thunk/kfdthunk/pkg/memmgr"
)

const (
	initialBlockSignals = 32
	maxBlockSignals      = 1024
)

var sharedSignalSize = uint64(unsafe.Sizeof(SharedSignal{}))

// memoryAllocator is the narrow slice of memmgr.MemoryManager a
// SignalPool needs to back its blocks with GTT memory.
type memoryAllocator interface {
	Allocate(size, align uint64, flags memmgr.AllocFlags, nodeID uint32, drmFD uintptr) (*memmgr.Allocation, error)
}

type signalSlot struct {
	ptr   *SharedSignal
	gpuVA uint64
}

// SignalPool hands out GPU-addressable signal slots from a growing
// sequence of GTT-backed blocks. Each block's base allocation is
// page-aligned and slots are laid out every sizeof(SharedSignal)
// bytes (128, a multiple of 64), so every slot sits 64-byte aligned in
// memory even though the Go type itself cannot declare that
// alignment (see abi.go).
//
// Blocks double in signal count from initialBlockSignals up to
// maxBlockSignals and are never shrunk; freed slots return to a free
// list for reuse by the next allocation of any size.
type SignalPool struct {
	mu sync.Mutex

	mem    memoryAllocator
	nodeID uint32
	drmFD  uintptr

	freeList  []signalSlot
	blocks    []*memmgr.Allocation
	nextBlock int
}

// NewSignalPool constructs a pool that backs its blocks with mem,
// allocated against nodeID/drmFD.
func NewSignalPool(mem memoryAllocator, nodeID uint32, drmFD uintptr) *SignalPool {
	return &SignalPool{
		mem:       mem,
		nodeID:    nodeID,
		drmFD:     drmFD,
		nextBlock: initialBlockSignals,
	}
}

func (p *SignalPool) growLocked() error {
	n := p.nextBlock
	blockBytes := uint64(n) * sharedSignalSize
	alloc, err := p.mem.Allocate(blockBytes, 4096, memmgr.AllocFlags{GTT: true, HostAccess: true, Coherent: true}, p.nodeID, p.drmFD)
	if err != nil {
		return err
	}

	base := alloc.Pointer()
	baseVA := alloc.GPUVA()
	for i := 0; i < n; i++ {
		// The backing allocation is freshly zeroed; only the two
		// fields that matter before first use need setting.
		slotPtr := (*SharedSignal)(unsafe.Pointer(base + uintptr(i)*uintptr(sharedSignalSize)))
		slotPtr.Kind = kindInvalid
		slotPtr.ID = signalMagic
		slotVA := baseVA + uint64(i)*sharedSignalSize
		p.freeList = append(p.freeList, signalSlot{ptr: slotPtr, gpuVA: slotVA})
	}

	p.blocks = append(p.blocks, alloc)
	if p.nextBlock < maxBlockSignals {
		p.nextBlock *= 2
		if p.nextBlock > maxBlockSignals {
			p.nextBlock = maxBlockSignals
		}
	}
	return nil
}

// alloc removes a slot from the free list, growing the pool by one
// more block first if it is empty.
func (p *SignalPool) alloc() (*SharedSignal, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeList) == 0 {
		if err := p.growLocked(); err != nil {
			return nil, 0, err
		}
	}

	last := len(p.freeList) - 1
	slot := p.freeList[last]
	p.freeList = p.freeList[:last]
	return slot.ptr, slot.gpuVA, nil
}

// free returns a slot to the pool for reuse.
func (p *SignalPool) free(ptr *SharedSignal, gpuVA uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ptr.Kind = kindInvalid
	p.freeList = append(p.freeList, signalSlot{ptr: ptr, gpuVA: gpuVA})
}

// Close releases every block the pool has ever allocated. Signals
// still outstanding against freed blocks become invalid; callers must
// close every Signal before closing its pool.
func (p *SignalPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		_ = b.Close()
	}
	p.blocks = nil
	p.freeList = nil
	return nil
}
