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

// Package queue builds and tears down KFD compute/SDMA queues,
// including their End-Of-Pipe and context save/restore backing memory.
package queue

import (
	"unsafe"

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
	"github.com/rocm-thunk/kfdthunk/pkg/memmgr"
	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

// Type selects the queue's packet format and engine.
type Type int

const (
	TypeCompute Type = iota
	TypeSDMA
	TypeComputeAQL
	TypeSDMAXGMI
)

func (t Type) wire() uint32 {
	switch t {
	case TypeSDMA:
		return kfd.QueueTypeSDMA
	case TypeComputeAQL:
		return kfd.QueueTypeComputeAQL
	case TypeSDMAXGMI:
		return kfd.QueueTypeSDMAXGMI
	default:
		return kfd.QueueTypeCompute
	}
}

func (t Type) isCompute() bool {
	return t == TypeCompute || t == TypeComputeAQL
}

// Priority is a named queue priority level, mapped onto the kernel's
// 0-15 scale by wire().
type Priority int

const (
	PriorityMinimum Priority = iota
	PriorityLow
	PriorityBelowNormal
	PriorityNormal
	PriorityAboveNormal
	PriorityHigh
	PriorityMaximum
)

func (p Priority) wire() uint32 {
	switch p {
	case PriorityLow:
		return kfd.QueuePriorityLow
	case PriorityBelowNormal:
		return kfd.QueuePriorityBelowNormal
	case PriorityAboveNormal:
		return kfd.QueuePriorityAboveNormal
	case PriorityHigh:
		return kfd.QueuePriorityHigh
	case PriorityMaximum:
		return kfd.QueuePriorityMaximum
	case PriorityMinimum:
		return kfd.QueuePriorityMinimum
	default:
		return kfd.QueuePriorityNormal
	}
}

// kfdDevice is the narrow ioctl surface the builder needs.
type kfdDevice interface {
	CreateQueue(args *kfd.CreateQueueArgs) error
	DestroyQueue(queueID uint32) error
	SetCUMask(queueID uint32, mask []uint32) error
	GetQueueWaveState(args *kfd.GetQueueWaveStateArgs) error
	FD() uintptr
}

// memoryAllocator is the subset of memmgr.MemoryManager the builder
// needs to back a queue's EOP buffer, CWSR area and doorbell mapping.
type memoryAllocator interface {
	Allocate(size, align uint64, flags memmgr.AllocFlags, nodeID uint32, drmFD uintptr) (*memmgr.Allocation, error)
	MapDoorbell(nodeID, gpuID uint32, doorbellOffset uint64) (*memmgr.Allocation, error)
}

// Builder configures and creates a single queue on a node.
type Builder struct {
	device kfdDevice
	mem    memoryAllocator
	node   topology.Node

	nodeID       uint32
	drmFD        uintptr
	queueType    Type
	priority     Priority
	percentage   uint32
	ringBase     uint64
	ringSize     uint64
	sdmaEngineID uint32
}

// NewBuilder starts building a queue for ringBase/ringSize, a
// caller-owned ring buffer already resident in node's address space.
func NewBuilder(device kfdDevice, mem memoryAllocator, node topology.Node, nodeID uint32, drmFD uintptr, ringBase, ringSize uint64) *Builder {
	return &Builder{
		device:     device,
		mem:        mem,
		node:       node,
		nodeID:     nodeID,
		drmFD:      drmFD,
		ringBase:   ringBase,
		ringSize:   ringSize,
		queueType:  TypeCompute,
		priority:   PriorityNormal,
		percentage: 100,
	}
}

func (b *Builder) WithType(t Type) *Builder           { b.queueType = t; return b }
func (b *Builder) WithPriority(p Priority) *Builder    { b.priority = p; return b }
func (b *Builder) WithPercentage(pct uint32) *Builder  { b.percentage = pct; return b }
func (b *Builder) WithSDMAEngineID(id uint32) *Builder { b.sdmaEngineID = id; return b }

func calculateEOPSize(gfxVersion uint32, isCompute bool) uint64 {
	major := (gfxVersion / 10000) % 100
	minor := (gfxVersion / 100) % 100

	if major == 9 && minor == 4 {
		if isCompute {
			return 4096
		}
		return 0
	}
	if major >= 8 {
		return 4096
	}
	return 0
}

// Create allocates a queue's backing memory (EOP buffer, CWSR area,
// PM4 pointer page as applicable), issues the create-queue ioctl and
// resolves the queue's doorbell into process address space.
func (b *Builder) Create() (*Queue, error) {
	gfxVersion := b.node.EngineMajor*10000 + b.node.EngineMinor*100 + b.node.EngineStepping
	isCompute := b.queueType.isCompute()

	q := &Queue{
		device:     b.device,
		nodeID:     b.nodeID,
		gfxVersion: gfxVersion,
	}

	if eopSize := calculateEOPSize(gfxVersion, isCompute); eopSize > 0 {
		eop, err := b.mem.Allocate(eopSize, 4096, memmgr.AllocFlags{VRAM: true, HostAccess: true}, b.nodeID, b.drmFD)
		if err != nil {
			return nil, hsaerr.IO("allocate eop buffer", err)
		}
		for i := range eop.Bytes() {
			eop.Bytes()[i] = 0
		}
		q.eopMem = eop
	}

	var sizes cwsrSizes
	if gfxVersion >= 80000 && isCompute {
		if s, ok := calculateCWSRSizes(b.node); ok {
			cwsr, err := b.mem.Allocate(uint64(s.totalMemAllocSize), 4096, memmgr.AllocFlags{GTT: true, HostAccess: true}, b.nodeID, b.drmFD)
			if err != nil {
				q.Close()
				return nil, hsaerr.IO("allocate cwsr area", err)
			}
			writeCWSRHeader(cwsr.Bytes(), s, b.node.NumXCC, 0, 0)
			sizes = s
			q.cwsrMem = cwsr
			q.cwsrSizes = s
		}
	}

	args := kfd.CreateQueueArgs{
		RingBaseAddress: b.ringBase,
		RingSize:        uint32(b.ringSize),
		GPUID:           b.node.GPUID,
		QueueType:       b.queueType.wire(),
		QueuePercentage: b.percentage,
		QueuePriority:   b.priority.wire(),
		SdmaEngineID:    b.sdmaEngineID,
	}

	if b.queueType != TypeComputeAQL {
		q.rptr = &q.ptrPage[0]
		q.wptr = &q.ptrPage[1]
		args.ReadPointerAddress = uint64(uintptr(unsafe.Pointer(q.rptr)))
		args.WritePointerAddress = uint64(uintptr(unsafe.Pointer(q.wptr)))
	}

	if q.eopMem != nil {
		args.EopBufferAddress = q.eopMem.GPUVA()
		args.EopBufferSize = q.eopMem.Size()
	}
	if q.cwsrMem != nil {
		args.CtxSaveRestoreAddress = q.cwsrMem.GPUVA()
		args.CtxSaveRestoreSize = uint64(sizes.ctxSaveRestoreSize)
		args.CtrlStackSize = uint64(sizes.ctlStackSize)
	}

	if err := b.device.CreateQueue(&args); err != nil {
		q.Close()
		return nil, hsaerr.IO("create queue", err)
	}
	q.id = args.QueueID
	q.readPointerAddr = args.ReadPointerAddress
	q.writePointerAddr = args.WritePointerAddress

	doorbell, err := b.resolveDoorbell(args.DoorbellOffset, gfxVersion)
	if err != nil {
		q.Close()
		return nil, err
	}
	q.doorbellMem = doorbell

	return q, nil
}

// resolveDoorbell maps the queue's doorbell page and returns an
// allocation whose Pointer() already carries the intra-page byte
// offset for SOC15 (GFX9+) devices, which pack multiple doorbells per
// page and report an offset relative to the page base.
func (b *Builder) resolveDoorbell(kernelOffset uint64, gfxVersion uint32) (*memmgr.Allocation, error) {
	isSOC15 := gfxVersion >= 90000

	doorbellPageSize := uint64(4096)
	if isSOC15 {
		doorbellPageSize = 8192
	}

	mmapOffset := kernelOffset
	var ptrOffset uint64
	if isSOC15 {
		mask := doorbellPageSize - 1
		mmapOffset = kernelOffset &^ mask
		ptrOffset = kernelOffset & mask
	}

	alloc, err := b.mem.MapDoorbell(b.nodeID, b.node.GPUID, mmapOffset)
	if err != nil {
		return nil, hsaerr.IO("map doorbell", err)
	}
	if ptrOffset != 0 {
		alloc.AddPointerOffset(ptrOffset)
	}
	return alloc, nil
}
