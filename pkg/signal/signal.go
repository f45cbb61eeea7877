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
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/event"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
)

var offsetOfValue = unsafe.Offsetof(AmdSignal{}.Value)

// eventManager is the narrow slice of event.Manager a Signal needs to
// notify and wait on its backing kernel event.
type eventManager interface {
	Create(desc event.Descriptor, manualReset, initialSignaled bool) (*event.Event, error)
	Set(ev *event.Event) error
	Destroy(ev *event.Event) error
	WaitOnMultiple(events []*event.Event, waitAll bool, timeoutMS uint32) ([]int, error)
}

// Condition names a comparison a waiter evaluates against a signal's
// current value.
type Condition int

// Conditions a Wait* call can evaluate, mirroring the four
// hsa_signal_condition_t cases.
const (
	ConditionEq Condition = iota
	ConditionNe
	ConditionLt
	ConditionGte
)

func checkCondition(value int64, cond Condition, compare int64) bool {
	switch cond {
	case ConditionEq:
		return value == compare
	case ConditionNe:
		return value != compare
	case ConditionLt:
		return value < compare
	case ConditionGte:
		return value >= compare
	default:
		return false
	}
}

// WaitState hints whether a wait call should favor low latency
// (WaitActive, busier spinning) or low CPU usage (WaitBlocked, sleeps
// sooner).
type WaitState int

const (
	WaitBlocked WaitState = iota
	WaitActive
)

// Signal is a pool-backed signal slot plus the kernel event used to
// wake a sleeping waiter.
type Signal struct {
	ptr       *SharedSignal
	gpuVA     uint64
	pool      *SignalPool
	events    eventManager
	ev        *event.Event

	waiting        atomic.Uint32
	asyncCopyAgent atomic.Uint64

	closeOnce sync.Once
}

// New allocates a user signal with initial value v, backed by a fresh
// kernel event owned by events.
func New(v int64, pool *SignalPool, events eventManager, nodeID uint32) (*Signal, error) {
	return newSignal(kindUser, v, 0, pool, events, nodeID)
}

// NewDoorbell allocates a signal a GPU can set directly through
// queuePtr's doorbell, without a kernel round trip. legacy selects
// the pre-SOC15 doorbell convention.
func NewDoorbell(v int64, queuePtr uint64, legacy bool, pool *SignalPool, events eventManager, nodeID uint32) (*Signal, error) {
	kind := int64(kindDoorbell)
	if legacy {
		kind = kindLegacyDoorbell
	}
	return newSignal(kind, v, queuePtr, pool, events, nodeID)
}

func newSignal(kind int64, v int64, queuePtr uint64, pool *SignalPool, events eventManager, nodeID uint32) (*Signal, error) {
	ptr, gpuVA, err := pool.alloc()
	if err != nil {
		return nil, err
	}

	ev, err := events.Create(event.Descriptor{EventType: kfd.EventTypeSignal, NodeID: nodeID}, true, false)
	if err != nil {
		pool.free(ptr, gpuVA)
		return nil, err
	}

	ptr.Kind = kind
	ptr.Value.Store(v)
	ptr.EventID = ev.ID()
	ptr.EventMailboxPtr = ev.HWData2()
	ptr.QueuePtr = queuePtr

	s := &Signal{
		ptr:    ptr,
		gpuVA:  gpuVA,
		pool:   pool,
		events: events,
		ev:     ev,
	}
	ptr.CoreSignal = uint64(uintptr(unsafe.Pointer(s)))
	return s, nil
}

// GPUAddress returns the GPU virtual address of the signal's
// AmdSignal header, the address a packet's completion_signal field
// should carry.
func (s *Signal) GPUAddress() uint64 { return s.gpuVA }

// ValueGPUAddress returns the GPU virtual address of the signal's
// value field specifically, as used by packets that target the value
// directly (e.g. SDMA fence writes).
func (s *Signal) ValueGPUAddress() uint64 {
	return s.gpuVA + uint64(offsetOfValue)
}

// SetAsyncCopyAgent records which copy engine last touched this
// signal's SDMA timestamps, and clears the previous pair so a stale
// reading can't be mistaken for the next transfer's.
func (s *Signal) SetAsyncCopyAgent(handle uint64) {
	s.asyncCopyAgent.Store(handle)
	atomic.StoreUint64(&s.ptr.SdmaStartTS, 0)
	atomic.StoreUint64(&s.ptr.SdmaEndTS, 0)
}

// AsyncCopyAgent returns the handle set by the most recent
// SetAsyncCopyAgent call, or 0 if none.
func (s *Signal) AsyncCopyAgent() uint64 { return s.asyncCopyAgent.Load() }

func (s *Signal) val() *atomic.Int64 { return &s.ptr.Value }

// notifyEvent wakes any waiter blocked in wait_*, per the
// release-notify protocol: the release write's ordering is already
// guaranteed by Go's sequentially consistent atomics, so the only
// remaining step is a conditional kernel-assisted wakeup when a
// waiter has registered itself.
func (s *Signal) notifyEvent() error {
	if s.waiting.Load() == 0 {
		return nil
	}
	if err := s.events.Set(s.ev); err != nil {
		return hsaerr.IO("notify signal event", err)
	}
	return nil
}

// LoadRelaxed reads the signal's current value.
func (s *Signal) LoadRelaxed() int64 { return s.val().Load() }

// LoadAcquire reads the signal's current value. Go's atomic loads are
// already sequentially consistent, so this is identical to
// LoadRelaxed; the name is kept for parity with the wider atomic API.
func (s *Signal) LoadAcquire() int64 { return s.val().Load() }

// StoreRelaxed writes v without notifying any waiter.
func (s *Signal) StoreRelaxed(v int64) { s.val().Store(v) }

// StoreRelease writes v and notifies a waiter if one is registered.
func (s *Signal) StoreRelease(v int64) error {
	s.val().Store(v)
	return s.notifyEvent()
}

// ExchangeRelaxed stores v and returns the previous value.
func (s *Signal) ExchangeRelaxed(v int64) int64 { return s.val().Swap(v) }

// ExchangeAcquire is ExchangeRelaxed under Go's atomic ordering model.
func (s *Signal) ExchangeAcquire(v int64) int64 { return s.val().Swap(v) }

// ExchangeRelease stores v, notifies a waiter, and returns the
// previous value.
func (s *Signal) ExchangeRelease(v int64) int64 {
	old := s.val().Swap(v)
	_ = s.notifyEvent()
	return old
}

// ExchangeAcqRel is ExchangeRelease under Go's atomic ordering model.
func (s *Signal) ExchangeAcqRel(v int64) int64 { return s.ExchangeRelease(v) }

// casOld performs a compare-and-swap loop that always returns the
// value observed at the point of success or first mismatch,
// mirroring compare_exchange's Err(old) => old convention.
func casOld(a *atomic.Int64, expected, value int64) int64 {
	for {
		old := a.Load()
		if old != expected {
			return old
		}
		if a.CompareAndSwap(expected, value) {
			return expected
		}
	}
}

// CASRelaxed atomically sets the value to value if it equals
// expected, returning the value actually observed.
func (s *Signal) CASRelaxed(expected, value int64) int64 { return casOld(s.val(), expected, value) }

// CASAcquire is CASRelaxed under Go's atomic ordering model.
func (s *Signal) CASAcquire(expected, value int64) int64 { return casOld(s.val(), expected, value) }

// CASRelease atomically sets the value to value if it equals
// expected, notifying a waiter on success.
func (s *Signal) CASRelease(expected, value int64) int64 {
	old := casOld(s.val(), expected, value)
	if old == expected {
		_ = s.notifyEvent()
	}
	return old
}

// CASAcqRel is CASRelease under Go's atomic ordering model.
func (s *Signal) CASAcqRel(expected, value int64) int64 { return s.CASRelease(expected, value) }

// AddRelaxed adds v to the value.
func (s *Signal) AddRelaxed(v int64) { s.val().Add(v) }

// AddAcquire is AddRelaxed under Go's atomic ordering model.
func (s *Signal) AddAcquire(v int64) { s.val().Add(v) }

// AddRelease adds v to the value and notifies a waiter.
func (s *Signal) AddRelease(v int64) {
	s.val().Add(v)
	_ = s.notifyEvent()
}

// AddAcqRel is AddRelease under Go's atomic ordering model.
func (s *Signal) AddAcqRel(v int64) { s.AddRelease(v) }

// SubRelaxed subtracts v from the value.
func (s *Signal) SubRelaxed(v int64) { s.val().Add(-v) }

// SubAcquire is SubRelaxed under Go's atomic ordering model.
func (s *Signal) SubAcquire(v int64) { s.val().Add(-v) }

// SubRelease subtracts v from the value and notifies a waiter.
func (s *Signal) SubRelease(v int64) {
	s.val().Add(-v)
	_ = s.notifyEvent()
}

// SubAcqRel is SubRelease under Go's atomic ordering model.
func (s *Signal) SubAcqRel(v int64) { s.SubRelease(v) }

// AndRelaxed bitwise-ANDs v into the value.
func (s *Signal) AndRelaxed(v int64) { s.val().And(v) }

// AndAcquire is AndRelaxed under Go's atomic ordering model.
func (s *Signal) AndAcquire(v int64) { s.val().And(v) }

// AndRelease bitwise-ANDs v into the value and notifies a waiter.
func (s *Signal) AndRelease(v int64) {
	s.val().And(v)
	_ = s.notifyEvent()
}

// AndAcqRel is AndRelease under Go's atomic ordering model.
func (s *Signal) AndAcqRel(v int64) { s.AndRelease(v) }

// OrRelaxed bitwise-ORs v into the value.
func (s *Signal) OrRelaxed(v int64) { s.val().Or(v) }

// OrAcquire is OrRelaxed under Go's atomic ordering model.
func (s *Signal) OrAcquire(v int64) { s.val().Or(v) }

// OrRelease bitwise-ORs v into the value and notifies a waiter.
func (s *Signal) OrRelease(v int64) {
	s.val().Or(v)
	_ = s.notifyEvent()
}

// OrAcqRel is OrRelease under Go's atomic ordering model.
func (s *Signal) OrAcqRel(v int64) { s.OrRelease(v) }

// xorOld bitwise-XORs v into a via a compare-and-swap loop, since
// sync/atomic has no native fetch-xor, and returns the prior value.
func xorOld(a *atomic.Int64, v int64) int64 {
	for {
		old := a.Load()
		if a.CompareAndSwap(old, old^v) {
			return old
		}
	}
}

// XorRelaxed bitwise-XORs v into the value.
func (s *Signal) XorRelaxed(v int64) { xorOld(s.val(), v) }

// XorAcquire is XorRelaxed under Go's atomic ordering model.
func (s *Signal) XorAcquire(v int64) { xorOld(s.val(), v) }

// XorRelease bitwise-XORs v into the value and notifies a waiter.
func (s *Signal) XorRelease(v int64) {
	xorOld(s.val(), v)
	_ = s.notifyEvent()
}

// XorAcqRel is XorRelease under Go's atomic ordering model.
func (s *Signal) XorAcqRel(v int64) { s.XorRelease(v) }

// Close returns the signal's slot to its pool and destroys its
// kernel event. Idempotent.
func (s *Signal) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.ptr.CoreSignal = 0
		s.pool.free(s.ptr, s.gpuVA)
		err = s.events.Destroy(s.ev)
	})
	return err
}
