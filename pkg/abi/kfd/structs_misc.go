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

package kfd

import "unsafe"

// SetTrapHandlerArgs is AMDKFD_IOC_SET_TRAP_HANDLER's argument struct.
type SetTrapHandlerArgs struct {
	TBAAddr uint64
	TMAAddr uint64
	GPUID   uint32
	Pad     uint32
}

// DbgRegisterArgs is the deprecated AMDKFD_IOC_DBG_REGISTER_DEPRECATED
// argument struct, superseded by TrapArgs with Op == DebugTrapEnable.
type DbgRegisterArgs struct {
	GPUID uint32
	Pad   uint32
}

// DbgUnregisterArgs is the deprecated AMDKFD_IOC_DBG_UNREGISTER_DEPRECATED
// argument struct.
type DbgUnregisterArgs struct {
	GPUID uint32
	Pad   uint32
}

// DbgAddressWatchArgs is the deprecated
// AMDKFD_IOC_DBG_ADDRESS_WATCH_DEPRECATED argument struct.
type DbgAddressWatchArgs struct {
	ContentPtr uint64
	GPUID      uint32
	BufSizeInBytes uint32
}

// DbgWaveControlArgs is the deprecated
// AMDKFD_IOC_DBG_WAVE_CONTROL_DEPRECATED argument struct.
type DbgWaveControlArgs struct {
	ContentPtr uint64
	GPUID      uint32
	BufSizeInBytes uint32
}

// AllocQueueGWSArgs is AMDKFD_IOC_ALLOC_QUEUE_GWS's argument struct.
type AllocQueueGWSArgs struct {
	QueueID    uint32
	NumGWS     uint32
	FirstGWS   uint32
}

// RuntimeEnableArgs is AMDKFD_IOC_RUNTIME_ENABLE's argument struct, used
// to coordinate debugger attach with the runtime's own trap handler setup.
type RuntimeEnableArgs struct {
	RInfoPtr uint64
	RInfoSize uint32
	Mode      uint32
}

// ProfilerOp selects the action in ProfilerArgs.Op.
const (
	ProfilerOpEnable  = 0
	ProfilerOpDisable = 1
)

// ProfilerArgs is AMDKFD_IOC_PROFILER's argument struct.
type ProfilerArgs struct {
	GPUID uint32
	Op    uint32
}

// AISArgs is AMDKFD_IOC_AIS_OP's argument struct, covering the vendor
// Infinity Storage extension. The thunk exposes it but never exercises it
// in normal queue/memory/signal flows.
type AISArgs struct {
	Handle uint64
	Op     uint32
	Pad    uint32
}

var (
	SetTrapHandler = iow(nrSetTrapHandler, uint32(unsafe.Sizeof(SetTrapHandlerArgs{})))

	DbgRegisterDeprecated     = iow(nrDbgRegister, uint32(unsafe.Sizeof(DbgRegisterArgs{})))
	DbgUnregisterDeprecated   = iow(nrDbgUnregister, uint32(unsafe.Sizeof(DbgUnregisterArgs{})))
	DbgAddressWatchDeprecated = iowr(nrDbgAddressWatch, uint32(unsafe.Sizeof(DbgAddressWatchArgs{})))
	DbgWaveControlDeprecated  = iowr(nrDbgWaveControl, uint32(unsafe.Sizeof(DbgWaveControlArgs{})))

	AllocQueueGWS = iowr(nrAllocQueueGWS, uint32(unsafe.Sizeof(AllocQueueGWSArgs{})))

	RuntimeEnable = iowr(nrRuntimeEnable, uint32(unsafe.Sizeof(RuntimeEnableArgs{})))

	Profiler = iowr(nrProfiler, uint32(unsafe.Sizeof(ProfilerArgs{})))

	AIS = iowr(nrAISOp, uint32(unsafe.Sizeof(AISArgs{})))
)
