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

import (
	"testing"
	"unsafe"
)

func decode(cmd uint32) (dir, typ, nr, size uint32) {
	dir = cmd >> iocDirshift
	typ = (cmd >> iocTypeshift) & ((1 << iocTypebits) - 1)
	nr = (cmd >> iocNrshift) & ((1 << iocNrbits) - 1)
	size = (cmd >> iocSizeshift) & ((1 << iocSizebits) - 1)
	return
}

func TestGetVersionEncoding(t *testing.T) {
	dir, typ, nr, size := decode(GetVersion)
	if dir != iocRead {
		t.Errorf("dir = %d, want %d", dir, iocRead)
	}
	if typ != kfdType {
		t.Errorf("type = %#x, want %#x", typ, kfdType)
	}
	if nr != nrGetVersion {
		t.Errorf("nr = %#x, want %#x", nr, nrGetVersion)
	}
	if size != uint32(unsafe.Sizeof(GetVersionArgs{})) {
		t.Errorf("size = %d, want %d", size, unsafe.Sizeof(GetVersionArgs{}))
	}
}

func TestCreateQueueIsReadWrite(t *testing.T) {
	dir, _, _, _ := decode(CreateQueue)
	if dir != iocRead|iocWrite {
		t.Errorf("dir = %d, want read|write", dir)
	}
}

func TestFreeMemoryOfGPUIsWriteOnly(t *testing.T) {
	dir, _, _, _ := decode(FreeMemoryOfGPU)
	if dir != iocWrite {
		t.Errorf("dir = %d, want write", dir)
	}
}

func TestCommandsAreUnique(t *testing.T) {
	cmds := map[uint32]string{
		GetVersion: "GetVersion", CreateQueue: "CreateQueue", DestroyQueue: "DestroyQueue",
		SetMemoryPolicy: "SetMemoryPolicy", GetClockCounters: "GetClockCounters",
		UpdateQueue: "UpdateQueue", CreateEvent: "CreateEvent", DestroyEvent: "DestroyEvent",
		SetEvent: "SetEvent", ResetEvent: "ResetEvent", WaitEvents: "WaitEvents",
		AcquireVM: "AcquireVM", AllocMemoryOfGPU: "AllocMemoryOfGPU",
		FreeMemoryOfGPU: "FreeMemoryOfGPU", MapMemoryToGPU: "MapMemoryToGPU",
		UnmapMemoryFromGPU: "UnmapMemoryFromGPU", SetCUMask: "SetCUMask",
		GetQueueWaveState: "GetQueueWaveState", DbgTrap: "DbgTrap", SVM: "SVM",
	}
	if len(cmds) != 20 {
		t.Fatalf("duplicate command value collapsed the map: got %d entries, want 20", len(cmds))
	}
}
