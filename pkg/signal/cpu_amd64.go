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

//go:build amd64

package signal

import (
	"sync/atomic"
	"unsafe"
)

func cpuidAsm(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)
func rdtscAsm() uint64
func monitorxAsm(addr uintptr)
func mwaitxAsm(timeoutCycles uint32)

const (
	featureUnknown int32 = iota
	featureYes
	featureNo
)

var mwaitxFeature atomic.Int32
var tscSafeFeature atomic.Int32

// supportsMWAITX reports CPUID Fn8000_0001_ECX[29], the AMD MONITORX/
// MWAITX support bit. Cached after the first probe.
func supportsMWAITX() bool {
	switch mwaitxFeature.Load() {
	case featureYes:
		return true
	case featureNo:
		return false
	}
	_, _, ecx, _ := cpuidAsm(0x80000001, 0)
	supported := ecx&(1<<29) != 0
	if supported {
		mwaitxFeature.Store(featureYes)
	} else {
		mwaitxFeature.Store(featureNo)
	}
	return supported
}

// isTSCSafe reports CPUID Fn8000_0007_EDX[8], the invariant TSC bit:
// whether RDTSC can be trusted as a monotonic wall-clock substitute
// across core migrations and frequency changes. Cached after the
// first probe.
func isTSCSafe() bool {
	switch tscSafeFeature.Load() {
	case featureYes:
		return true
	case featureNo:
		return false
	}
	_, _, _, edx := cpuidAsm(0x80000007, 0)
	safe := edx&(1<<8) != 0
	if safe {
		tscSafeFeature.Store(featureYes)
	} else {
		tscSafeFeature.Store(featureNo)
	}
	return safe
}

func rdtsc() uint64 { return rdtscAsm() }

func monitorx(addr unsafe.Pointer) { monitorxAsm(uintptr(addr)) }

func mwaitx(timeoutCycles uint32) { mwaitxAsm(timeoutCycles) }
