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

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/event"
	"github.com/rocm-thunk/kfdthunk/pkg/memmgr"
)

type fakeEventDevice struct {
	nextID       uint32
	waitResult   uint32
	setCalls     []uint32
	destroyCalls []uint32
}

func (f *fakeEventDevice) CreateEvent(args *kfd.CreateEventArgs) error {
	f.nextID++
	args.EventID = f.nextID
	args.EventSlotIndex = f.nextID - 1
	return nil
}

func (f *fakeEventDevice) DestroyEvent(eventID uint32) error {
	f.destroyCalls = append(f.destroyCalls, eventID)
	return nil
}

func (f *fakeEventDevice) SetEvent(eventID uint32) error {
	f.setCalls = append(f.setCalls, eventID)
	return nil
}

func (f *fakeEventDevice) ResetEvent(eventID uint32) error { return nil }

func (f *fakeEventDevice) WaitEvents(events []kfd.EventWaitResult, waitForAll bool, timeoutMS uint32) (uint32, error) {
	return f.waitResult, nil
}

type fakeEventAllocator struct{}

func (fakeEventAllocator) Allocate(size, align uint64, flags memmgr.AllocFlags, nodeID uint32, drmFD uintptr) (*memmgr.Allocation, error) {
	return &memmgr.Allocation{}, nil
}

type fakeSignalAllocator struct{}

func (fakeSignalAllocator) Allocate(size, align uint64, flags memmgr.AllocFlags, nodeID uint32, drmFD uintptr) (*memmgr.Allocation, error) {
	buf := make([]byte, size)
	return memmgr.NewTestAllocation(uintptr(unsafe.Pointer(&buf[0])), size, 0x4000, 9), nil
}

func newTestSignal(t *testing.T, v int64) (*Signal, *fakeEventDevice) {
	t.Helper()
	evDev := &fakeEventDevice{}
	events := event.NewManager(evDev, fakeEventAllocator{})
	pool := NewSignalPool(fakeSignalAllocator{}, 0, 0)

	s, err := New(v, pool, events, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, evDev
}

func TestNewSignalStampsKindAndValue(t *testing.T) {
	s, _ := newTestSignal(t, 42)
	if s.ptr.Kind != kindUser {
		t.Fatalf("kind = %d, want %d", s.ptr.Kind, kindUser)
	}
	if got := s.LoadRelaxed(); got != 42 {
		t.Fatalf("value = %d, want 42", got)
	}
}

func TestStoreReleaseNotifiesOnlyWhenWaiting(t *testing.T) {
	s, evDev := newTestSignal(t, 0)

	if err := s.StoreRelease(1); err != nil {
		t.Fatalf("StoreRelease: %v", err)
	}
	if len(evDev.setCalls) != 0 {
		t.Fatalf("expected no notification with no waiter, got %d", len(evDev.setCalls))
	}

	s.waiting.Add(1)
	if err := s.StoreRelease(2); err != nil {
		t.Fatalf("StoreRelease: %v", err)
	}
	if len(evDev.setCalls) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(evDev.setCalls))
	}
}

func TestCASReturnsObservedValueOnMismatch(t *testing.T) {
	s, _ := newTestSignal(t, 10)
	old := s.CASRelaxed(5, 99)
	if old != 10 {
		t.Fatalf("CAS mismatch should return observed value 10, got %d", old)
	}
	if got := s.LoadRelaxed(); got != 10 {
		t.Fatalf("value should be unchanged after CAS mismatch, got %d", got)
	}
}

func TestCASSucceedsAndNotifies(t *testing.T) {
	s, evDev := newTestSignal(t, 10)
	s.waiting.Add(1)

	old := s.CASRelease(10, 20)
	if old != 10 {
		t.Fatalf("CAS success should return expected value 10, got %d", old)
	}
	if got := s.LoadRelaxed(); got != 20 {
		t.Fatalf("value = %d, want 20", got)
	}
	if len(evDev.setCalls) != 1 {
		t.Fatalf("expected notification on CAS success, got %d calls", len(evDev.setCalls))
	}
}

func TestAddSubAndRelease(t *testing.T) {
	s, _ := newTestSignal(t, 100)
	s.AddRelaxed(5)
	if got := s.LoadRelaxed(); got != 105 {
		t.Fatalf("after AddRelaxed(5): %d, want 105", got)
	}
	s.SubRelaxed(10)
	if got := s.LoadRelaxed(); got != 95 {
		t.Fatalf("after SubRelaxed(10): %d, want 95", got)
	}
	s.AddRelease(5)
	if got := s.LoadRelaxed(); got != 100 {
		t.Fatalf("after AddRelease(5): %d, want 100", got)
	}
	s.SubRelease(20)
	if got := s.LoadRelaxed(); got != 80 {
		t.Fatalf("after SubRelease(20): %d, want 80", got)
	}
}

func TestBitwiseOps(t *testing.T) {
	s, _ := newTestSignal(t, 0b1100)
	s.AndRelaxed(0b1000)
	if got := s.LoadRelaxed(); got != 0b1000 {
		t.Fatalf("after And: %#b, want %#b", got, 0b1000)
	}
	s.OrRelaxed(0b0011)
	if got := s.LoadRelaxed(); got != 0b1011 {
		t.Fatalf("after Or: %#b, want %#b", got, 0b1011)
	}
	s.XorRelaxed(0b1111)
	if got := s.LoadRelaxed(); got != 0b0100 {
		t.Fatalf("after Xor: %#b, want %#b", got, 0b0100)
	}
}

func TestWaitRelaxedReturnsImmediatelyWhenAlreadySatisfied(t *testing.T) {
	s, _ := newTestSignal(t, 7)
	got := s.WaitRelaxed(ConditionEq, 7, Forever, WaitActive, 1_000_000_000)
	if got != 7 {
		t.Fatalf("WaitRelaxed = %d, want 7", got)
	}
}

func TestWaitRelaxedTimesOutAndReturnsLatestValue(t *testing.T) {
	s, _ := newTestSignal(t, 0)
	got := s.WaitRelaxed(ConditionEq, 1, 1, WaitActive, 1_000_000_000)
	if got != 0 {
		t.Fatalf("WaitRelaxed on timeout = %d, want 0", got)
	}
}

func TestCloseFreesSlotAndDestroysEvent(t *testing.T) {
	s, evDev := newTestSignal(t, 0)
	evID := s.ev.ID()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	found := false
	for _, id := range evDev.destroyCalls {
		if id == evID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Close to destroy event %d, destroyed %v", evID, evDev.destroyCalls)
	}
	if got := len(s.pool.freeList); got != initialBlockSignals {
		t.Fatalf("free list holds %d slots after Close, want all %d back", got, initialBlockSignals)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(evDev.destroyCalls) != 1 {
		t.Fatalf("expected Close to be idempotent, got %d destroy calls", len(evDev.destroyCalls))
	}
}
