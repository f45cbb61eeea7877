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

package event

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
	"github.com/rocm-thunk/kfdthunk/pkg/memmgr"
)

const eventPageSize = 4096

// kfdDevice is the narrow ioctl surface the manager needs.
type kfdDevice interface {
	CreateEvent(args *kfd.CreateEventArgs) error
	DestroyEvent(eventID uint32) error
	SetEvent(eventID uint32) error
	ResetEvent(eventID uint32) error
	WaitEvents(events []kfd.EventWaitResult, waitForAll bool, timeoutMS uint32) (uint32, error)
}

// memoryAllocator is the subset of memmgr.MemoryManager the event
// manager needs in order to back the shared event page.
type memoryAllocator interface {
	Allocate(size, align uint64, flags memmgr.AllocFlags, nodeID uint32, drmFD uintptr) (*memmgr.Allocation, error)
}

// Manager tracks live events and lazily backs them with a shared event
// page allocated from the fine-grained SVM aperture.
type Manager struct {
	device kfdDevice
	mem    memoryAllocator

	mu        sync.Mutex
	eventPage *memmgr.Allocation
	events    map[uint32]*Event
}

// NewManager constructs an event manager bound to device for ioctls and
// mem for the lazily-allocated shared event page.
func NewManager(device kfdDevice, mem memoryAllocator) *Manager {
	return &Manager{
		device: device,
		mem:    mem,
		events: make(map[uint32]*Event),
	}
}

func (m *Manager) ensureEventPage() error {
	if m.eventPage != nil {
		return nil
	}
	alloc, err := m.mem.Allocate(eventPageSize, eventPageSize, memmgr.AllocFlags{Coherent: true, HostAccess: true}, 0, 0)
	if err != nil {
		return err
	}
	m.eventPage = alloc
	return nil
}

// Create requests a new kernel event per desc. manualReset controls
// whether the event stays signaled across repeated waits until
// explicitly Reset; initialSignaled signals it immediately after
// creation.
func (m *Manager) Create(desc Descriptor, manualReset, initialSignaled bool) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureEventPage(); err != nil {
		return nil, err
	}

	autoReset := uint32(1)
	if manualReset {
		autoReset = 0
	}
	args := kfd.CreateEventArgs{
		SyncVar:     desc.SyncVarAddr,
		SyncVarSize: desc.SyncVarSize,
		EventType:   desc.EventType,
		AutoReset:   autoReset,
		NodeID:      desc.NodeID,
	}
	if err := m.device.CreateEvent(&args); err != nil {
		return nil, hsaerr.IO("create event", err)
	}

	ev := &Event{
		id:          args.EventID,
		slotIndex:   args.EventSlotIndex,
		pageOffset:  args.EventPageOffset,
		hwData2:     args.SyncVar,
		manualReset: manualReset,
	}
	m.events[ev.id] = ev

	if initialSignaled {
		if err := m.device.SetEvent(ev.id); err != nil {
			delete(m.events, ev.id)
			return nil, hsaerr.IO("set initial event state", err)
		}
		ev.setSignaled(true)
	}

	return ev, nil
}

// Set signals ev, waking any blocked WaitOnMultiple call for it.
func (m *Manager) Set(ev *Event) error {
	if err := m.device.SetEvent(ev.id); err != nil {
		return hsaerr.IO("set event", err)
	}
	ev.setSignaled(true)
	return nil
}

// Reset clears ev's signaled state.
func (m *Manager) Reset(ev *Event) error {
	if err := m.device.ResetEvent(ev.id); err != nil {
		return hsaerr.IO("reset event", err)
	}
	ev.setSignaled(false)
	return nil
}

// Destroy releases ev. Idempotent.
func (m *Manager) Destroy(ev *Event) error {
	ev.mu.Lock()
	if ev.closed {
		ev.mu.Unlock()
		return nil
	}
	ev.closed = true
	ev.mu.Unlock()

	m.mu.Lock()
	delete(m.events, ev.id)
	m.mu.Unlock()

	if err := m.device.DestroyEvent(ev.id); err != nil {
		return hsaerr.IO("destroy event", err)
	}
	return nil
}

// WaitOnMultiple blocks until any (or, if waitAll, every) of events is
// signaled or timeoutMS elapses. On success it returns the indices into
// events that were found signaled, clearing auto-reset events among
// them. On timeout it returns hsaerr.WaitTimeout wrapping unix.ETIME,
// per the original ioctl's -ETIME convention.
func (m *Manager) WaitOnMultiple(events []*Event, waitAll bool, timeoutMS uint32) ([]int, error) {
	if len(events) == 0 {
		return nil, hsaerr.General("WaitOnMultiple: empty event list")
	}

	args := make([]kfd.EventWaitResult, len(events))
	for i, ev := range events {
		args[i].EventID = ev.id
	}

	waitResult, err := m.device.WaitEvents(args, waitAll, timeoutMS)
	if err != nil {
		return nil, hsaerr.IO("wait events", err)
	}

	const (
		waitResultComplete = 0
		waitResultTimeout  = 1
	)
	if waitResult == waitResultTimeout {
		return nil, &hsaerr.Error{Kind: hsaerr.KindWaitTimeout, Msg: "wait_on_multiple_events", Cause: unix.ETIME}
	}

	var hits []int
	for i, ev := range events {
		if ev.consumeSignaled() {
			hits = append(hits, i)
		}
	}
	return hits, nil
}
