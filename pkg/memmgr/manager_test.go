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

import (
	"testing"

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

// fakeDevice is a minimal kfdDevice stub driven entirely from in-memory
// state, so tests never touch /dev/kfd.
type fakeDevice struct {
	apertures []kfd.ProcessDeviceAperture

	nextHandle uint64

	allocErr  error
	mapErr    error
	unmapErr  error
	freeErr   error

	allocCalls  []kfd.AllocMemoryOfGPUArgs
	freeCalls   []uint64
	unmapCalls  []uint64
}

func (f *fakeDevice) GetProcessAperturesNew(maxNodes uint32) ([]kfd.ProcessDeviceAperture, error) {
	return f.apertures, nil
}

func (f *fakeDevice) AllocMemoryOfGPU(args *kfd.AllocMemoryOfGPUArgs) error {
	if f.allocErr != nil {
		return f.allocErr
	}
	f.nextHandle++
	args.Handle = f.nextHandle
	f.allocCalls = append(f.allocCalls, *args)
	return nil
}

func (f *fakeDevice) FreeMemoryOfGPU(handle uint64) error {
	f.freeCalls = append(f.freeCalls, handle)
	return f.freeErr
}

func (f *fakeDevice) MapMemoryToGPU(handle uint64, deviceIDs []uint32) (uint32, error) {
	if f.mapErr != nil {
		return 0, f.mapErr
	}
	return uint32(len(deviceIDs)), nil
}

func (f *fakeDevice) UnmapMemoryFromGPU(handle uint64, deviceIDs []uint32) error {
	f.unmapCalls = append(f.unmapCalls, handle)
	return f.unmapErr
}

func (f *fakeDevice) FD() uintptr { return 0 }

func gpuTestNode(nodeID, gpuID uint32) topology.Node {
	return topology.Node{NodeID: nodeID, GPUID: gpuID, SIMDCount: 1}
}

func TestNewBuildsPerNodeAperturesAndSVM(t *testing.T) {
	dev := &fakeDevice{
		apertures: []kfd.ProcessDeviceAperture{
			{
				GPUID:        7,
				LDSBase:      0x1000,
				LDSLimit:     0x1FFF,
				ScratchBase:  0x2000,
				ScratchLimit: 0x2FFF,
				GPUVMBase:    0x3000,
				GPUVMLimit:   0xFFFFFFF,
			},
		},
	}
	nodes := []topology.Node{gpuTestNode(0, 7)}

	m, err := New(dev, nodes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.gpuApertures[0]; !ok {
		t.Fatal("expected per-node apertures for node 0")
	}
	if m.svmAlt == nil || m.svmDefault == nil {
		t.Fatal("expected SVM apertures to be constructed")
	}
	altBase, altLimit := m.svmAlt.Bounds()
	if altBase != svmMinBase {
		t.Fatalf("svm_alt base = %#x, want %#x", altBase, svmMinBase)
	}
	defBase, _ := m.svmDefault.Bounds()
	if defBase != altLimit+1 {
		t.Fatalf("svm_default base = %#x, want %#x", defBase, altLimit+1)
	}
}

func TestAllocateRoutesCoherentToSVMAlt(t *testing.T) {
	dev := &fakeDevice{}
	m, err := New(dev, []topology.Node{gpuTestNode(0, 1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alloc, err := m.Allocate(4096, 4096, AllocFlags{Coherent: true}, 0, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	base, limit := m.svmAlt.Bounds()
	if alloc.GPUVA() < base || alloc.GPUVA() > limit {
		t.Fatalf("allocation VA %#x not within svm_alt [%#x,%#x]", alloc.GPUVA(), base, limit)
	}
	if err := alloc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAllocateRollsBackVAOnKernelAllocFailure(t *testing.T) {
	dev := &fakeDevice{allocErr: errTest{}}
	m, err := New(dev, []topology.Node{gpuTestNode(0, 1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := m.Allocate(4096, 4096, AllocFlags{}, 0, 0); err == nil {
		t.Fatal("expected allocation failure")
	}

	// The VA should have been released back to the aperture: a
	// subsequent allocation of the same size should succeed and not
	// run out of space.
	dev.allocErr = nil
	if _, err := m.Allocate(4096, 4096, AllocFlags{}, 0, 0); err != nil {
		t.Fatalf("expected VA to be reclaimed after rollback: %v", err)
	}
}

func TestAllocateRollsBackOnMapFailure(t *testing.T) {
	dev := &fakeDevice{mapErr: errTest{}}
	m, err := New(dev, []topology.Node{gpuTestNode(0, 1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := m.Allocate(4096, 4096, AllocFlags{}, 0, 0); err == nil {
		t.Fatal("expected map failure to propagate")
	}
	if len(dev.freeCalls) != 1 {
		t.Fatalf("expected kernel handle to be freed on map failure, got %d free calls", len(dev.freeCalls))
	}
}

func TestCloseUnmapsAndFreesIgnoringErrors(t *testing.T) {
	dev := &fakeDevice{}
	m, err := New(dev, []topology.Node{gpuTestNode(0, 1)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alloc, err := m.Allocate(4096, 4096, AllocFlags{}, 0, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := alloc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(dev.unmapCalls) != 1 || len(dev.freeCalls) != 1 {
		t.Fatalf("expected one unmap and one free call, got %d/%d", len(dev.unmapCalls), len(dev.freeCalls))
	}

	// Idempotent.
	if err := alloc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(dev.unmapCalls) != 1 || len(dev.freeCalls) != 1 {
		t.Fatal("Close should be idempotent")
	}
}

type errTest struct{}

func (errTest) Error() string { return "injected test failure" }
