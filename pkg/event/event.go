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

// Package event wraps KFD's event subsystem: kernel-backed signal,
// memory-exception, and hardware-exception notifications, delivered
// through a blocking multi-event wait ioctl.
package event

import "sync"

// Descriptor requests an event's kind, owning node, and an optional
// caller-supplied sync variable address reported back to the kernel.
type Descriptor struct {
	EventType   uint32
	NodeID      uint32
	SyncVarAddr uint64
	SyncVarSize uint32
}

// Event is a handle to a created KFD event. The zero value is not
// valid; construct one via Manager.Create.
type Event struct {
	id          uint32
	slotIndex   uint32
	pageOffset  uint64
	hwData2     uint64
	manualReset bool

	mu       sync.Mutex
	signaled bool
	closed   bool
}

// ID returns the kernel event id.
func (e *Event) ID() uint32 { return e.id }

// SlotIndex returns the event's index within the shared event page.
func (e *Event) SlotIndex() uint32 { return e.slotIndex }

// PageOffset returns the mmap offset of the shared event page backing
// this event's slot.
func (e *Event) PageOffset() uint64 { return e.pageOffset }

// HWData2 is the GPU/mailbox address the kernel reports for this
// event's slot, used by hardware to signal it directly.
func (e *Event) HWData2() uint64 { return e.hwData2 }

func (e *Event) setSignaled(v bool) {
	e.mu.Lock()
	e.signaled = v
	e.mu.Unlock()
}

// consumeSignaled reports whether the event is currently signaled, and
// clears it if it is not a manual-reset event.
func (e *Event) consumeSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	hit := e.signaled
	if hit && !e.manualReset {
		e.signaled = false
	}
	return hit
}
