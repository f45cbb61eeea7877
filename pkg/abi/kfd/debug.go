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

// Debugger trap operations, used in TrapArgs.Op. Each has its own payload
// variant below; only one is valid per Op.
const (
	DebugTrapEnable                 = 0
	DebugTrapDisable                = 1
	DebugTrapSendRuntimeEvent       = 2
	DebugTrapSetExceptionsEnabled   = 3
	DebugTrapSetLaunchOverride      = 4
	DebugTrapSetFlags               = 5
	DebugTrapQueryDebugEvent        = 6
	DebugTrapQueryExceptionInfo     = 7
	DebugTrapGetQueueSnapshot       = 8
	DebugTrapGetDeviceSnapshot      = 9
	DebugTrapSuspendQueues          = 10
	DebugTrapResumeQueues           = 11
	DebugTrapSetNodeAddressWatch    = 12
	DebugTrapClearNodeAddressWatch  = 13
)

// TrapEnablePayload is the payload for DebugTrapEnable.
type TrapEnablePayload struct {
	ExceptionMask    uint64
	RinbufAddress    uint64
	RingbufSize      uint32
	Pad              uint32
}

// TrapSendRuntimeEventPayload is the payload for DebugTrapSendRuntimeEvent.
type TrapSendRuntimeEventPayload struct {
	ExceptionMask uint64
	GPUID         uint32
	QueueID       uint32
}

// TrapSetExceptionsEnabledPayload is the payload for
// DebugTrapSetExceptionsEnabled.
type TrapSetExceptionsEnabledPayload struct {
	ExceptionMask uint64
}

// TrapSetLaunchOverridePayload is the payload for
// DebugTrapSetLaunchOverride.
type TrapSetLaunchOverridePayload struct {
	OverrideMode  uint32
	EnableMask    uint32
}

// TrapSetFlagsPayload is the payload for DebugTrapSetFlags.
type TrapSetFlagsPayload struct {
	Flags uint32
}

// TrapQueryDebugEventPayload is the payload for DebugTrapQueryDebugEvent.
type TrapQueryDebugEventPayload struct {
	ExceptionMask uint64
	GPUID         uint32
	QueueID       uint32
}

// TrapQueryExceptionInfoPayload is the payload for
// DebugTrapQueryExceptionInfo.
type TrapQueryExceptionInfoPayload struct {
	InfoPtr       uint64
	InfoSize      uint32
	SourceID      uint32
	ExceptionCode uint32
	ClearException uint32
}

// TrapGetQueueSnapshotPayload is the payload for
// DebugTrapGetQueueSnapshot.
type TrapGetQueueSnapshotPayload struct {
	ExceptionMask uint64
	SnapshotBufAddr uint64
	NumQueues     uint32
	EntrySize     uint32
}

// TrapGetDeviceSnapshotPayload is the payload for
// DebugTrapGetDeviceSnapshot.
type TrapGetDeviceSnapshotPayload struct {
	SnapshotBufAddr uint64
	NumDevices      uint32
	EntrySize       uint32
}

// TrapSuspendQueuesPayload is the payload for DebugTrapSuspendQueues and
// DebugTrapResumeQueues.
type TrapSuspendQueuesPayload struct {
	ExceptionMask uint64
	QueueArrayPtr uint64
	NumQueues     uint32
	GracePeriod   uint32
}

// TrapSetNodeAddressWatchPayload is the payload for
// DebugTrapSetNodeAddressWatch.
type TrapSetNodeAddressWatchPayload struct {
	Address uint64
	Mode    uint32
	Mask    uint64
	GPUID   uint32
	ID      uint32
}

// TrapClearNodeAddressWatchPayload is the payload for
// DebugTrapClearNodeAddressWatch.
type TrapClearNodeAddressWatchPayload struct {
	GPUID uint32
	ID    uint32
}

// TrapPayload is the largest member of the debugger trap union, sized to
// fit every variant above. Callers fill in the bytes corresponding to Op
// via the dedicated TrapXxxPayload types and copy them in; the thunk never
// holds more than one variant live at a time.
type TrapPayload [40]byte

// TrapArgs is AMDKFD_IOC_DBG_TRAP's argument struct: a discriminant plus a
// tagged-union payload, mirroring struct kfd_ioctl_dbg_trap_args.
type TrapArgs struct {
	PID     uint32
	Op      uint32
	Payload TrapPayload
}
