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

package kfdcontext

import (
	"testing"

	"github.com/rocm-thunk/kfdthunk/pkg/sysfs"
	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

func TestSynthesizeMemoryBanksSkipsCPUNodes(t *testing.T) {
	n := topology.Node{NodeID: 0, CPUCoresCount: 8}
	synthesizeMemoryBanks(&n)
	if len(n.MemoryBanks) != 0 {
		t.Fatalf("expected no synthesized banks on a CPU node, got %+v", n.MemoryBanks)
	}
}

func TestSynthesizeMemoryBanksKaveriPrivateFramebuffer(t *testing.T) {
	n := topology.Node{
		NodeID:           1,
		SIMDCount:        16,
		GfxTargetVersion: legacyKaveriVersion,
		Raw:              sysfs.Properties{"local_mem_size": 2 << 20},
	}
	synthesizeMemoryBanks(&n)

	found := false
	for _, b := range n.MemoryBanks {
		if b.HeapKind == topology.HeapFramebufferPrivate {
			found = true
			if b.Size != 2<<20 {
				t.Fatalf("private framebuffer size = %d, want %d", b.Size, 2<<20)
			}
		}
	}
	if !found {
		t.Fatalf("expected private framebuffer bank for legacy Kaveri node, got %+v", n.MemoryBanks)
	}
}

func TestSynthesizeMemoryBanksAPUSkipsSVM(t *testing.T) {
	n := topology.Node{
		NodeID:        1,
		SIMDCount:     16,
		CPUCoresCount: 4, // same node carries CPU cores: an APU, not discrete
		EngineMajor:   8,
	}
	synthesizeMemoryBanks(&n)
	for _, b := range n.MemoryBanks {
		if b.HeapKind == topology.HeapDeviceSVM {
			t.Fatalf("expected no device-SVM bank for an engine-major-8 APU node, got %+v", n.MemoryBanks)
		}
	}
}

func TestSynthesizeMemoryBanksDiscreteGPUGetsSVM(t *testing.T) {
	n := topology.Node{
		NodeID:      1,
		SIMDCount:   64,
		EngineMajor: 8,
		GPUVMBase:   0x1000,
		GPUVMLimit:  0x1FFF,
	}
	synthesizeMemoryBanks(&n)
	found := false
	for _, b := range n.MemoryBanks {
		if b.HeapKind == topology.HeapDeviceSVM {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected device-SVM bank for discrete GPU node, got %+v", n.MemoryBanks)
	}
}

func TestSynthesizeMemoryBanksAlwaysAppendsMMIO(t *testing.T) {
	n := topology.Node{NodeID: 1, SIMDCount: 16}
	synthesizeMemoryBanks(&n)
	found := false
	for _, b := range n.MemoryBanks {
		if b.HeapKind == topology.HeapMMIORemap && b.Size == mmioRemapSize {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MMIO-remap bank of size %d, got %+v", mmioRemapSize, n.MemoryBanks)
	}
}

func TestIsaNameFormatsGfxTriple(t *testing.T) {
	n := topology.Node{SIMDCount: 1, EngineMajor: 10, EngineMinor: 3, EngineStepping: 0}
	if got := isaName(n); got != "gfx1030" {
		t.Fatalf("isaName = %q, want gfx1030", got)
	}
}
