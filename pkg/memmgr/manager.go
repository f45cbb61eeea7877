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

// Package memmgr owns the thunk's virtual address space: the process-wide
// SVM apertures, the per-GPU LDS/Scratch/GPUVM apertures, and the kernel
// alloc/map/mmap sequence that turns an aperture reservation into a usable
// CPU pointer.
package memmgr

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rocm-thunk/kfdthunk/internal/log"
	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/aperture"
	"github.com/rocm-thunk/kfdthunk/pkg/cleanup"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

const (
	pageSize        = 4096
	svmMinBase      = 0x1000_0000 // 256 MiB
	svmAltSize      = 4 * 1024 * 1024 * 1024
	svmReservationLimit = (1 << 47) - 1
	svmGuardPages   = 1
)

// kfdDevice is the subset of pkg/kfddevice.Device's ioctl surface the
// manager needs. Expressed as an interface so tests can substitute a fake
// driver instead of opening /dev/kfd.
type kfdDevice interface {
	GetProcessAperturesNew(maxNodes uint32) ([]kfd.ProcessDeviceAperture, error)
	AllocMemoryOfGPU(args *kfd.AllocMemoryOfGPUArgs) error
	FreeMemoryOfGPU(handle uint64) error
	MapMemoryToGPU(handle uint64, deviceIDs []uint32) (uint32, error)
	UnmapMemoryFromGPU(handle uint64, deviceIDs []uint32) error
	FD() uintptr
}

// gpuApertures holds the per-node apertures derived from the kernel's
// process-aperture report.
type gpuApertures struct {
	lds     *aperture.Aperture
	scratch *aperture.Aperture
	gpuvm   *aperture.Aperture
}

// MemoryManager is the single owner of process VA bookkeeping. All
// mutation serializes through mu; it must never be held across a
// blocking event wait.
type MemoryManager struct {
	mu sync.Mutex

	device kfdDevice

	svmDefault *aperture.Aperture
	svmAlt     *aperture.Aperture

	gpuApertures map[uint32]*gpuApertures
	nodeToGPUID  map[uint32]uint32
}

// New queries the kernel for process apertures and constructs the
// process-wide and per-GPU apertures described in spec.md §4.3.
func New(device kfdDevice, nodes []topology.Node) (*MemoryManager, error) {
	nodeToGPUID := make(map[uint32]uint32)
	for _, n := range nodes {
		if n.IsGPU() {
			nodeToGPUID[n.NodeID] = n.GPUID
		}
	}

	aps, err := device.GetProcessAperturesNew(uint32(len(nodes)))
	if err != nil {
		return nil, hsaerr.IO("get process apertures", err)
	}

	gpuAps := make(map[uint32]*gpuApertures)
	var maxGPUVMLimit uint64
	for _, a := range aps {
		if a.GPUID == 0 {
			continue
		}
		nodeID, ok := nodeIDForGPUID(nodeToGPUID, a.GPUID)
		if !ok {
			continue
		}
		gpuAps[nodeID] = &gpuApertures{
			lds:     aperture.New(a.LDSBase, a.LDSLimit, pageSize, 0),
			scratch: aperture.New(a.ScratchBase, a.ScratchLimit, pageSize, 0),
			gpuvm:   aperture.New(a.GPUVMBase, a.GPUVMLimit, pageSize, svmGuardPages),
		}
		if a.GPUVMLimit > maxGPUVMLimit {
			maxGPUVMLimit = a.GPUVMLimit
		}
	}

	svmLimit := uint64(svmReservationLimit)
	if maxGPUVMLimit > 0 && maxGPUVMLimit < svmLimit {
		svmLimit = maxGPUVMLimit
	}

	altBase := uint64(svmMinBase)
	altLimit := altBase + svmAltSize - 1
	defBase := altLimit + 1

	m := &MemoryManager{
		device:       device,
		svmAlt:       aperture.New(altBase, altLimit, pageSize, svmGuardPages),
		svmDefault:   aperture.New(defBase, svmLimit, pageSize, svmGuardPages),
		gpuApertures: gpuAps,
		nodeToGPUID:  nodeToGPUID,
	}
	return m, nil
}

func nodeIDForGPUID(m map[uint32]uint32, gpuID uint32) (uint32, bool) {
	for nodeID, id := range m {
		if id == gpuID {
			return nodeID, true
		}
	}
	return 0, false
}

func roundUpPage(size uint64) uint64 {
	if size == 0 {
		size = pageSize
	}
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// selectAperture picks the aperture backing flags for nodeID, per
// spec.md §4.3's routing table.
func (m *MemoryManager) selectAperture(flags AllocFlags, nodeID uint32) (*aperture.Aperture, error) {
	switch {
	case flags.Scratch:
		g, ok := m.gpuApertures[nodeID]
		if !ok {
			return nil, hsaerr.InvalidNodeID(nodeID)
		}
		return g.scratch, nil
	case flags.LDS:
		g, ok := m.gpuApertures[nodeID]
		if !ok {
			return nil, hsaerr.InvalidNodeID(nodeID)
		}
		return g.lds, nil
	case flags.Coherent || flags.Uncached || flags.Doorbell:
		return m.svmAlt, nil
	default:
		return m.svmDefault, nil
	}
}

// Allocate reserves VA, performs the kernel alloc/map sequence, and
// optionally mmaps the region into the reserved address. drmFD backs the
// mmap when the allocation is host-accessible but not a doorbell.
func (m *MemoryManager) Allocate(size, align uint64, flags AllocFlags, nodeID uint32, drmFD uintptr) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = roundUpPage(size)

	ap, err := m.selectAperture(flags, nodeID)
	if err != nil {
		return nil, err
	}

	va, ok := ap.AllocateVA(size, align)
	if !ok {
		return nil, hsaerr.OutOfMemory("no VA hole for allocation")
	}
	c := cleanup.Make(func() { ap.FreeVA(va, size) })
	defer c.Clean()

	gpuID := m.nodeToGPUID[nodeID]
	args := kfd.AllocMemoryOfGPUArgs{
		VAAddr: va,
		Size:   size,
		GPUID:  gpuID,
		Flags:  toKernelBits(flags),
	}
	if err := m.device.AllocMemoryOfGPU(&args); err != nil {
		return nil, hsaerr.IO("alloc memory of gpu", err)
	}
	c.Add(func() {
		if err := m.device.FreeMemoryOfGPU(args.Handle); err != nil {
			log.Warningf("memmgr: rollback free_memory_of_gpu(handle=%d): %v", args.Handle, err)
		}
	})

	if _, err := m.device.MapMemoryToGPU(args.Handle, []uint32{gpuID}); err != nil {
		return nil, hsaerr.IO("map memory to gpu", err)
	}
	c.Add(func() {
		if err := m.device.UnmapMemoryFromGPU(args.Handle, []uint32{gpuID}); err != nil {
			log.Warningf("memmgr: rollback unmap_memory_from_gpu(handle=%d): %v", args.Handle, err)
		}
	})

	var ptr uintptr
	if flags.HostAccess || flags.Doorbell {
		fd := drmFD
		if flags.Doorbell {
			fd = m.device.FD()
		}
		prot := unix.PROT_READ | unix.PROT_WRITE
		if flags.ReadOnly {
			prot = unix.PROT_READ
		}
		mapped, err := mmapFixed(fd, int64(args.MmapOffset), va, size, prot)
		if err != nil {
			return nil, hsaerr.IO("mmap allocation", err)
		}
		ptr = mapped
	}

	alloc := &Allocation{
		manager:  m,
		ptr:      ptr,
		size:     size,
		va:       va,
		handle:   args.Handle,
		nodeID:   nodeID,
		flags:    flags,
	}
	alloc.installFinalizer()

	c.Release()
	return alloc, nil
}

// MapDoorbell reserves a page from svm_alt, kernel-allocates a doorbell
// mapping at the kernel-reported offset, and mmaps it through the KFD
// device fd. The returned Allocation's Pointer is a *uint32 doorbell
// register; the caller (a Queue) owns its lifetime.
func (m *MemoryManager) MapDoorbell(nodeID, gpuID uint32, doorbellOffset uint64) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := uint64(pageSize)
	va, ok := m.svmAlt.AllocateVA(size, pageSize)
	if !ok {
		return nil, hsaerr.OutOfMemory("no VA hole for doorbell")
	}
	c := cleanup.Make(func() { m.svmAlt.FreeVA(va, size) })
	defer c.Clean()

	args := kfd.AllocMemoryOfGPUArgs{
		VAAddr:     va,
		Size:       size,
		GPUID:      gpuID,
		MmapOffset: doorbellOffset,
		Flags: kfd.AllocMemFlagsDoorbell | kfd.AllocMemFlagsWritable |
			kfd.AllocMemFlagsPublic | kfd.AllocMemFlagsCoherent | kfd.AllocMemFlagsNoSubstitute,
	}
	if err := m.device.AllocMemoryOfGPU(&args); err != nil {
		return nil, hsaerr.IO("alloc doorbell", err)
	}
	c.Add(func() {
		if err := m.device.FreeMemoryOfGPU(args.Handle); err != nil {
			log.Warningf("memmgr: rollback free doorbell handle=%d: %v", args.Handle, err)
		}
	})

	ptr, err := mmapFixed(m.device.FD(), int64(args.MmapOffset), va, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, hsaerr.IO("mmap doorbell", err)
	}

	alloc := &Allocation{
		manager: m,
		ptr:     ptr,
		size:    size,
		va:      va,
		handle:  args.Handle,
		nodeID:  nodeID,
		flags:   AllocFlags{Doorbell: true},
	}
	alloc.installFinalizer()

	c.Release()
	return alloc, nil
}

// freeVAFromFlags returns addr/size to the aperture that flags would have
// routed the original allocation to.
func (m *MemoryManager) freeVAFromFlags(addr, size uint64, flags AllocFlags, nodeID uint32) {
	ap, err := m.selectAperture(flags, nodeID)
	if err != nil {
		log.Warningf("memmgr: free_va: %v", err)
		return
	}
	ap.FreeVA(addr, size)
}
