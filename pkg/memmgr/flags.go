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

import "github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"

// AllocFlags is the capability-level allocation request. The manager
// translates it into a kernel flag bitmask and routes it to the
// appropriate aperture.
type AllocFlags struct {
	VRAM              bool
	GTT               bool
	Doorbell          bool
	HostAccess        bool
	ReadOnly          bool
	ExecuteAccess     bool
	Coherent          bool
	Uncached          bool
	ExtendedCoherent  bool
	AQLQueueMem       bool
	Contiguous        bool
	NoSubstitute      bool
	Scratch           bool
	LDS               bool
}

// toKernelBits translates AllocFlags into the bitmask expected by
// AllocMemoryOfGPUArgs.Flags.
func toKernelBits(f AllocFlags) uint32 {
	var bits uint32
	if f.VRAM {
		bits |= kfd.AllocMemFlagsVRAM
		if f.NoSubstitute {
			bits |= kfd.AllocMemFlagsNoSubstitute
		}
	}
	if f.GTT {
		bits |= kfd.AllocMemFlagsGTT
	}
	if f.Doorbell {
		bits |= kfd.AllocMemFlagsDoorbell
	}
	if f.HostAccess {
		bits |= kfd.AllocMemFlagsPublic
	}
	if !f.ReadOnly {
		bits |= kfd.AllocMemFlagsWritable
	}
	if f.ExecuteAccess {
		bits |= kfd.AllocMemFlagsExecutable
	}
	if f.Coherent {
		bits |= kfd.AllocMemFlagsCoherent
	}
	if f.Uncached {
		bits |= kfd.AllocMemFlagsUncached
	}
	if f.ExtendedCoherent {
		bits |= kfd.AllocMemFlagsExtCoherent
	}
	if f.AQLQueueMem {
		bits |= kfd.AllocMemFlagsAQLQueueMemory
	}
	if f.Contiguous {
		bits |= kfd.AllocMemFlagsContiguousBestEffort
	}
	return bits
}
