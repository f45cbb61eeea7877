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

// Package topology snapshots and enriches the KFD sysfs topology tree:
// nodes, memory banks, caches, io-links, device-table lookups, and
// inferred indirect GPU<->GPU links.
package topology

import "github.com/rocm-thunk/kfdthunk/pkg/sysfs"

// Heap kinds for MemoryBank, matching the kernel's KFD_IOC_HEAP_TYPE_*
// enumeration.
const (
	HeapSystem            = 0
	HeapFramebufferPublic = 1
	HeapFramebufferPrivate = 2
	HeapGDS               = 3
	HeapLDS               = 5
	HeapScratch           = 6
	HeapDeviceSVM         = 7
	HeapMMIORemap         = 8
)

// IoLink types.
const (
	IoLinkTypeUndefined = 0
	IoLinkTypePCIe       = 1
	IoLinkTypeXGMI       = 2
	IoLinkTypeNUMA       = 4
	IoLinkTypeQPI        = 5
)

// MemoryBank is a heap descriptor: either read directly from
// mem_banks/<N>/properties or synthesized from aperture limits (LDS,
// Scratch, device-SVM, MMIO-remap never appear in sysfs).
type MemoryBank struct {
	HeapKind uint32
	Size     uint64
	Width    uint32
	MaxClock uint32
}

// Cache is a per-node cache descriptor, a thin typed view over the raw
// sysfs properties (the thunk never interprets cache topology beyond
// exposing it).
type Cache struct {
	Level           uint32
	Size            uint32
	CacheLineSize   uint32
	LinesPerTag     uint32
	Associativity   uint32
	CacheType       uint32
	SiblingMap      uint64
	Raw             sysfs.Properties
}

// IoLink is a node-to-node link, either read directly from
// io_links/<N>/properties (direct links) or computed by indirect-link
// inference (GPU<->CPU<->GPU and GPU<->CPU<->CPU<->GPU paths).
type IoLink struct {
	NodeFrom  uint32
	NodeTo    uint32
	Type      uint32
	Weight    uint32
	MinBandwidth uint32
	MaxBandwidth uint32
	MinLatency   uint32
	MaxLatency   uint32
	Synthesized  bool
}

// Node is one topology entity: a CPU or a GPU.
type Node struct {
	NodeID uint32
	GPUID  uint32

	DeviceID uint32
	Domain   uint32
	Bus      uint32
	Device   uint32
	Function uint32

	CPUCoresCount uint32
	SIMDCount     uint32

	LDSBase, LDSLimit         uint64
	ScratchBase, ScratchLimit uint64
	GPUVMBase, GPUVMLimit     uint64

	EngineMajor, EngineMinor, EngineStepping uint32
	GfxTargetVersion                         uint64

	MarketingName string
	Codename      string
	CPUModelName  string

	ArrayCount          uint32
	SimdArraysPerEngine uint32
	SimdPerCU           uint32
	NumShaderBanks      uint32
	SGPRSizePerCU       uint32
	VGPRSizePerCU       uint32
	NumXCC              uint32

	DRMRenderMinor uint32

	Caches      []Cache
	MemoryBanks []MemoryBank
	IoLinks     []IoLink
	P2PLinks    []sysfs.Properties

	// Raw is the unparsed node properties file, an escape hatch for
	// fields the typed view above doesn't name.
	Raw sysfs.Properties
}

// IsGPU reports whether this node represents a GPU (nonzero SIMD count).
func (n Node) IsGPU() bool { return n.SIMDCount > 0 }

// Topology is a full snapshot of the KFD topology tree.
type Topology struct {
	SystemProperties sysfs.Properties
	Generation       uint64
	Nodes            []Node

	// Warnings aggregates non-fatal per-object parse failures
	// encountered during the scan; the scan still returns a usable
	// snapshot even when Warnings is non-nil.
	Warnings error

	// SystemClockFreq is the derived timestamp frequency in Hz.
	SystemClockFreq uint64
}

// NodeByID returns the node with the given NodeID, or false if absent.
func (t *Topology) NodeByID(id uint32) (Node, bool) {
	for _, n := range t.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return Node{}, false
}
