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

package queue

import (
	"encoding/binary"

	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

const (
	hwregSizePerCU       = 0x1000
	debuggerBytesPerWave = 32
	debuggerBytesAlign   = 64

	// cwsrHeaderSize is sizeof(HsaUserContextSaveAreaHeader): six u32
	// fields (control_stack_offset/size, wave_state_offset/size,
	// debug_offset/size) plus a u64 (error_reason) plus two more u32
	// (error_event_id, reserved1).
	cwsrHeaderSize = 40
)

// cwsrSizes holds the per-queue context save/restore area sizing
// derived from a node's engine generation and CU layout.
type cwsrSizes struct {
	ctlStackSize       uint32
	wgDataSize         uint32
	debugMemorySize    uint32
	ctxSaveRestoreSize uint32
	totalMemAllocSize  uint32
}

func alignUp32(val, align uint32) uint32 {
	return (val + align - 1) &^ (align - 1)
}

// vgprSizePerCU mirrors topology's large-VGPR GFX9 exception table,
// keyed the same way off (major, minor, stepping).
func vgprSizePerCU(major, minor, stepping uint32) uint32 {
	if major == 9 && ((minor == 0 && stepping == 8) || minor == 4 || (minor == 5 && stepping == 0)) {
		return 512 * 1024
	}
	if major >= 11 {
		return 384 * 1024
	}
	return 256 * 1024
}

func cntlStackBytesPerWave(major uint32) uint32 {
	if major >= 10 {
		return 12
	}
	return 8
}

// calculateCWSRSizes computes the context save/restore sizing for a
// compute queue on n, per spec.md §4.6. Returns ok=false when the node
// predates CWSR support (engine major < 8) or lacks the CU geometry
// needed to size it.
func calculateCWSRSizes(n topology.Node) (cwsrSizes, bool) {
	gfxVersion := n.EngineMajor*10000 + n.EngineMinor*100 + n.EngineStepping
	if gfxVersion < 80000 {
		return cwsrSizes{}, false
	}
	if n.SIMDCount == 0 || n.SimdPerCU == 0 {
		return cwsrSizes{}, false
	}

	numXCC := n.NumXCC
	if numXCC == 0 {
		numXCC = 1
	}

	cuNum := n.SIMDCount / n.SimdPerCU / numXCC

	var waveNum uint32
	if gfxVersion < 100100 {
		maxWavesSE := uint32(0xFFFFFFFF)
		if n.SimdArraysPerEngine > 0 {
			maxWavesSE = (n.NumShaderBanks / n.SimdArraysPerEngine) * 512
		}
		waveNum = min32(cuNum*40, maxWavesSE)
	} else {
		waveNum = cuNum * 32
	}

	ctlStackBytes := waveNum*cntlStackBytesPerWave(n.EngineMajor) + 8
	ctlStackSize := alignUp32(cwsrHeaderSize+ctlStackBytes, 4096)
	if gfxVersion == 100100 {
		ctlStackSize = min32(ctlStackSize, 0x7000)
	}

	sgprSizePerCU := n.SGPRSizePerCU
	ldsSizePerCU := uint32(n.Raw["lds_size_in_kb"]) * 1024

	wgDataSizePerCU := vgprSizePerCU(n.EngineMajor, n.EngineMinor, n.EngineStepping) + sgprSizePerCU + ldsSizePerCU + hwregSizePerCU
	wgDataSize := cuNum * wgDataSizePerCU

	debugMemorySize := alignUp32(waveNum*debuggerBytesPerWave, debuggerBytesAlign)

	ctxSaveRestoreSize := ctlStackSize + alignUp32(wgDataSize, 4096)
	totalMemAllocSize := (ctxSaveRestoreSize + debugMemorySize) * numXCC

	return cwsrSizes{
		ctlStackSize:       ctlStackSize,
		wgDataSize:         wgDataSize,
		debugMemorySize:    debugMemorySize,
		ctxSaveRestoreSize: ctxSaveRestoreSize,
		totalMemAllocSize:  totalMemAllocSize,
	}, true
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// writeCWSRHeader writes one HsaUserContextSaveAreaHeader per XCC into
// buf, per spec.md §4.6. The per-header control_stack/wave_state
// offsets and sizes are left zero; firmware fills them in on the first
// save. debug_offset reverse-indexes from header i to the shared debug
// area that follows all XCC areas. buf must be at least
// sizes.totalMemAllocSize bytes.
func writeCWSRHeader(buf []byte, sizes cwsrSizes, numXCC uint32, errorEventID uint32, errorReasonAddr uint64) {
	if numXCC == 0 {
		numXCC = 1
	}
	for i := uint32(0); i < numXCC; i++ {
		offset := i * sizes.ctxSaveRestoreSize
		h := buf[offset : offset+cwsrHeaderSize]

		binary.LittleEndian.PutUint32(h[0:4], 0)   // control_stack_offset
		binary.LittleEndian.PutUint32(h[4:8], 0)   // control_stack_size
		binary.LittleEndian.PutUint32(h[8:12], 0)  // wave_state_offset
		binary.LittleEndian.PutUint32(h[12:16], 0) // wave_state_size
		binary.LittleEndian.PutUint32(h[16:20], (numXCC-i)*sizes.ctxSaveRestoreSize) // debug_offset
		binary.LittleEndian.PutUint32(h[20:24], sizes.debugMemorySize*numXCC)        // debug_size
		binary.LittleEndian.PutUint64(h[24:32], errorReasonAddr)                     // error_reason
		binary.LittleEndian.PutUint32(h[32:36], errorEventID)                        // error_event_id
		binary.LittleEndian.PutUint32(h[36:40], 0)                                   // reserved1
	}
}
