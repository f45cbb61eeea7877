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

package signal

import (
	"testing"
	"unsafe"
)

func TestAmdSignalSize(t *testing.T) {
	if got := unsafe.Sizeof(AmdSignal{}); got != 64 {
		t.Fatalf("sizeof(AmdSignal) = %d, want 64", got)
	}
}

func TestSharedSignalSize(t *testing.T) {
	if got := unsafe.Sizeof(SharedSignal{}); got != 128 {
		t.Fatalf("sizeof(SharedSignal) = %d, want 128", got)
	}
}

func TestSharedSignalSdmaStartTSOffset(t *testing.T) {
	if got := unsafe.Offsetof(SharedSignal{}.SdmaStartTS); got != 64 {
		t.Fatalf("offsetof(SharedSignal.SdmaStartTS) = %d, want 64", got)
	}
}

func TestSignalSlotStrideIsSixtyFourByteMultiple(t *testing.T) {
	// AmdSignal cannot declare a 64-byte forced alignment the way the
	// hardware ABI does; instead every pool slot is placed
	// sizeof(SharedSignal) bytes apart, and that stride alone must be
	// a multiple of 64 for a page-aligned block base to keep every
	// slot 64-byte aligned.
	if sharedSignalSize%64 != 0 {
		t.Fatalf("sizeof(SharedSignal) = %d is not a multiple of 64", sharedSignalSize)
	}
}
