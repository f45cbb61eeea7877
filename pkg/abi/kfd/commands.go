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

// ioctl sequence numbers (the "nr" field), in AMDKFD_IOC_* enumeration
// order.
const (
	nrGetVersion = 0x01

	nrCreateQueue    = 0x02
	nrDestroyQueue   = 0x03
	nrSetMemoryPolicy = 0x04
	nrGetClockCounters = 0x05
	nrGetProcessAperturesOld = 0x06
	nrUpdateQueue    = 0x07
	nrCreateEvent    = 0x08
	nrDestroyEvent   = 0x09
	nrSetEvent       = 0x0A
	nrResetEvent     = 0x0B
	nrWaitEvents     = 0x0C

	nrDbgRegister   = 0x0D
	nrDbgUnregister = 0x0E
	nrDbgAddressWatch = 0x0F
	nrDbgWaveControl  = 0x10

	nrSetScratchBackingVA = 0x11
	nrGetTileConfig       = 0x12

	nrSetTrapHandler = 0x13

	nrGetProcessAperturesNew = 0x14

	nrAcquireVM = 0x15

	nrAllocMemoryOfGPU         = 0x16
	nrFreeMemoryOfGPU          = 0x17
	nrMapMemoryToGPU           = 0x18
	nrUnmapMemoryFromGPU       = 0x19

	nrSetCUMask        = 0x1A
	nrGetQueueWaveState = 0x1B

	nrGetDMABufInfo  = 0x1C
	nrImportDMABuf   = 0x1D

	nrAllocQueueGWS = 0x1E

	nrSMIEvents = 0x1F

	nrSVM = 0x20

	nrSetXNACKMode = 0x21

	nrCRIUOp = 0x22

	nrAvailableMemory = 0x23

	nrExportDMABuf = 0x24

	nrRuntimeEnable = 0x25

	nrDbgTrap = 0x26

	nrIPCImportHandle = 0x27
	nrIPCExportHandle = 0x28

	nrCrossMemoryCopy = 0x29

	nrSPM = 0x2A

	nrPCSample = 0x2B

	nrProfiler = 0x2C
	nrAISOp    = 0x2D
)

// Command numbers, computed from nr plus argument size exactly as the
// kernel's AMDKFD_IOC_* macros do, so these stay correct if a struct's
// field layout changes.
var (
	GetVersion = ior(nrGetVersion, uint32(unsafe.Sizeof(GetVersionArgs{})))

	CreateQueue     = iowr(nrCreateQueue, uint32(unsafe.Sizeof(CreateQueueArgs{})))
	DestroyQueue    = iowr(nrDestroyQueue, uint32(unsafe.Sizeof(DestroyQueueArgs{})))
	SetMemoryPolicy = iow(nrSetMemoryPolicy, uint32(unsafe.Sizeof(SetMemoryPolicyArgs{})))
	GetClockCounters = iowr(nrGetClockCounters, uint32(unsafe.Sizeof(GetClockCountersArgs{})))
	GetProcessAperturesOld = iowr(nrGetProcessAperturesOld, uint32(unsafe.Sizeof(GetProcessAperturesArgs{})))
	UpdateQueue = iow(nrUpdateQueue, uint32(unsafe.Sizeof(UpdateQueueArgs{})))
	CreateEvent = iowr(nrCreateEvent, uint32(unsafe.Sizeof(CreateEventArgs{})))
	DestroyEvent = iow(nrDestroyEvent, uint32(unsafe.Sizeof(DestroyEventArgs{})))
	SetEvent    = iow(nrSetEvent, uint32(unsafe.Sizeof(SetEventArgs{})))
	ResetEvent  = iow(nrResetEvent, uint32(unsafe.Sizeof(ResetEventArgs{})))
	WaitEvents  = iowr(nrWaitEvents, uint32(unsafe.Sizeof(WaitEventsArgs{})))

	SetScratchBackingVA  = iowr(nrSetScratchBackingVA, uint32(unsafe.Sizeof(SetScratchBackingVAArgs{})))
	GetTileConfig        = iowr(nrGetTileConfig, uint32(unsafe.Sizeof(GetTileConfigArgs{})))

	GetProcessAperturesNew = iowr(nrGetProcessAperturesNew, uint32(unsafe.Sizeof(GetProcessAperturesNewArgs{})))

	AcquireVM = iow(nrAcquireVM, uint32(unsafe.Sizeof(AcquireVMArgs{})))

	AllocMemoryOfGPU   = iowr(nrAllocMemoryOfGPU, uint32(unsafe.Sizeof(AllocMemoryOfGPUArgs{})))
	FreeMemoryOfGPU    = iow(nrFreeMemoryOfGPU, uint32(unsafe.Sizeof(FreeMemoryOfGPUArgs{})))
	MapMemoryToGPU     = iowr(nrMapMemoryToGPU, uint32(unsafe.Sizeof(MapMemoryToGPUArgs{})))
	UnmapMemoryFromGPU = iowr(nrUnmapMemoryFromGPU, uint32(unsafe.Sizeof(UnmapMemoryFromGPUArgs{})))

	SetCUMask        = iow(nrSetCUMask, uint32(unsafe.Sizeof(SetCUMaskArgs{})))
	GetQueueWaveState = iowr(nrGetQueueWaveState, uint32(unsafe.Sizeof(GetQueueWaveStateArgs{})))

	GetDMABufInfo = iowr(nrGetDMABufInfo, uint32(unsafe.Sizeof(GetDMABufInfoArgs{})))
	ImportDMABuf  = iowr(nrImportDMABuf, uint32(unsafe.Sizeof(ImportDMABufArgs{})))
	ExportDMABuf  = iowr(nrExportDMABuf, uint32(unsafe.Sizeof(ExportDMABufArgs{})))

	SMIEvents = iowr(nrSMIEvents, uint32(unsafe.Sizeof(SMIEventsArgs{})))

	SVM = iowr(nrSVM, uint32(unsafe.Sizeof(SVMArgs{})))

	SetXNACKMode = iowr(nrSetXNACKMode, uint32(unsafe.Sizeof(SetXNACKModeArgs{})))

	CRIUOp = iowr(nrCRIUOp, uint32(unsafe.Sizeof(CRIUArgs{})))

	AvailableMemory = iowr(nrAvailableMemory, uint32(unsafe.Sizeof(AvailableMemoryArgs{})))

	DbgTrap = iowr(nrDbgTrap, uint32(unsafe.Sizeof(TrapArgs{})))

	IPCImportHandle = iowr(nrIPCImportHandle, uint32(unsafe.Sizeof(IPCImportHandleArgs{})))
	IPCExportHandle = iowr(nrIPCExportHandle, uint32(unsafe.Sizeof(IPCExportHandleArgs{})))

	CrossMemoryCopy = iowr(nrCrossMemoryCopy, uint32(unsafe.Sizeof(CrossMemoryCopyArgs{})))

	SPM = iowr(nrSPM, uint32(unsafe.Sizeof(SPMCounterControlArgs{})))

	PCSample = iowr(nrPCSample, uint32(unsafe.Sizeof(PCSampleArgs{})))
)

// Memory allocation flags, OR'd into AllocMemoryOfGPUArgs.Flags.
const (
	AllocMemFlagsVRAM        = 1 << 0
	AllocMemFlagsGTT         = 1 << 1
	AllocMemFlagsUserptr     = 1 << 2
	AllocMemFlagsDoorbell    = 1 << 3
	AllocMemFlagsMMIORemap   = 1 << 4

	AllocMemFlagsWritable   = 1 << 31
	AllocMemFlagsExecutable = 1 << 30
	AllocMemFlagsPublic     = 1 << 29
	AllocMemFlagsNoSubstitute = 1 << 28
	AllocMemFlagsAQLQueueMemory = 1 << 27
	AllocMemFlagsCoherent       = 1 << 26
	AllocMemFlagsUncached       = 1 << 25
	AllocMemFlagsExtCoherent    = 1 << 24
	AllocMemFlagsContiguousBestEffort = 1 << 23
)

// Queue priority levels, as accepted by CreateQueueArgs.QueuePriority.
// The thunk's public API expresses priority as a named level (minimum
// through maximum) and maps it onto this 0-15 scale.
const (
	QueuePriorityMinimum = 0
	QueuePriorityLow     = 3
	QueuePriorityBelowNormal = 5
	QueuePriorityNormal  = 7
	QueuePriorityAboveNormal = 9
	QueuePriorityHigh    = 11
	QueuePriorityMaximum = 15
)
