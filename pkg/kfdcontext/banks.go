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
	"fmt"

	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

const (
	legacyKaveriVersion = 70000
	mmioRemapSize       = 4096
)

// synthesizeMemoryBanks appends the memory banks sysfs never reports
// (LDS, the Kaveri-only private framebuffer, Scratch, device-SVM,
// MMIO-remap) to n's existing sysfs-sourced bank list. n must already
// have its apertures filled in by fillApertures. CPU nodes are left
// untouched.
func synthesizeMemoryBanks(n *topology.Node) {
	if !n.IsGPU() {
		return
	}

	// lds_limit == lds_base == 0 means the kernel never carved out an
	// LDS aperture for this node; the bank is suppressed rather than
	// emitted with size 0.
	if n.LDSLimit > n.LDSBase {
		n.MemoryBanks = append(n.MemoryBanks, topology.MemoryBank{
			HeapKind: topology.HeapLDS,
			Size:     n.Raw["lds_size_in_kb"] * 1024,
		})
	}

	if n.GfxTargetVersion == legacyKaveriVersion && n.Raw["local_mem_size"] > 0 {
		n.MemoryBanks = append(n.MemoryBanks, topology.MemoryBank{
			HeapKind: topology.HeapFramebufferPrivate,
			Size:     n.Raw["local_mem_size"],
		})
	}

	if n.ScratchLimit > n.ScratchBase {
		n.MemoryBanks = append(n.MemoryBanks, topology.MemoryBank{
			HeapKind: topology.HeapScratch,
			Size:     n.ScratchLimit - n.ScratchBase + 1,
		})
	}

	if isDiscreteGPU(n) || n.EngineMajor >= 9 {
		n.MemoryBanks = append(n.MemoryBanks, topology.MemoryBank{
			HeapKind: topology.HeapDeviceSVM,
			Size:     n.GPUVMLimit - n.GPUVMBase + 1,
		})
	}

	n.MemoryBanks = append(n.MemoryBanks, topology.MemoryBank{
		HeapKind: topology.HeapMMIORemap,
		Size:     mmioRemapSize,
	})
}

// isDiscreteGPU reports whether n is a standalone GPU node rather than
// an APU's integrated GPU, inferred from the absence of CPU cores on
// the same topology node.
func isDiscreteGPU(n *topology.Node) bool {
	return n.IsGPU() && n.CPUCoresCount == 0
}

// isaName derives the ISA string gfx<major><minor><stepping> for GPU
// nodes, or "cpu" for CPU nodes.
func isaName(n topology.Node) string {
	if !n.IsGPU() {
		return "cpu"
	}
	return fmt.Sprintf("gfx%d%d%d", n.EngineMajor, n.EngineMinor, n.EngineStepping)
}
