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

package kfddevice

import (
	"testing"

	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
)

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/nonexistent/kfd/path")
	if err == nil {
		t.Fatal("expected error")
	}
	if !hsaerr.Is(err, hsaerr.KindIO) {
		t.Fatalf("got %v, want KindIO", err)
	}
}

func TestSetCUMaskRejectsEmptyMask(t *testing.T) {
	d := &Device{}
	err := d.SetCUMask(0, nil)
	if !hsaerr.Is(err, hsaerr.KindGeneral) {
		t.Fatalf("got %v, want KindGeneral", err)
	}
}

func TestMapMemoryToGPURejectsEmptyDeviceList(t *testing.T) {
	d := &Device{}
	_, err := d.MapMemoryToGPU(1, nil)
	if !hsaerr.Is(err, hsaerr.KindGeneral) {
		t.Fatalf("got %v, want KindGeneral", err)
	}
}

func TestWaitEventsRejectsEmptyList(t *testing.T) {
	d := &Device{}
	_, err := d.WaitEvents(nil, false, 0)
	if !hsaerr.Is(err, hsaerr.KindGeneral) {
		t.Fatalf("got %v, want KindGeneral", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d, err := Open("/dev/null")
	if err != nil {
		t.Skipf("no /dev/null: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
}
