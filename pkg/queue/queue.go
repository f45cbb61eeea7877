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

package queue

import (
	"sync"
	"unsafe"

	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
	"github.com/rocm-thunk/kfdthunk/pkg/memmgr"
)

// Queue is a live KFD queue and the allocations that back it. Close
// tears it down in the kernel first, then drops its backing
// allocations, mirroring the teardown order of the original create
// sequence in reverse.
type Queue struct {
	device kfdDevice

	id         uint32
	nodeID     uint32
	gfxVersion uint32

	// ptrPage backs the read/write pointer pair the kernel polls as
	// queue_read_ptr and queue_write_ptr: one contiguous two-word
	// allocation, write pointer at rptr+8, rather than two independent
	// heap words with no adjacency guarantee.
	ptrPage          [2]uint64
	rptr, wptr       *uint64
	readPointerAddr  uint64
	writePointerAddr uint64

	eopMem      *memmgr.Allocation
	cwsrMem     *memmgr.Allocation
	cwsrSizes   cwsrSizes
	doorbellMem *memmgr.Allocation

	closeOnce sync.Once
}

// ID is the kernel-assigned queue id.
func (q *Queue) ID() uint32 { return q.id }

// Doorbell returns the process-mapped doorbell register for this
// queue. Writing the current write-pointer value here rings it.
func (q *Queue) Doorbell() *uint32 {
	if q.doorbellMem == nil {
		return nil
	}
	return (*uint32)(unsafe.Pointer(q.doorbellMem.Pointer()))
}

// ReadPointer returns the PM4 read pointer, or nil for an AQL queue
// where the packet processor owns pointer semantics internally.
func (q *Queue) ReadPointer() *uint64 { return q.rptr }

// WritePointer returns the PM4 write pointer, or nil for an AQL queue.
func (q *Queue) WritePointer() *uint64 { return q.wptr }

// SetCUMask restricts this queue to the compute units named by mask, a
// bitmask with one bit per CU across all of the node's shader engines.
func (q *Queue) SetCUMask(mask []uint32) error {
	if err := q.device.SetCUMask(q.id, mask); err != nil {
		return hsaerr.IO("set cu mask", err)
	}
	return nil
}

// WaveState snapshots the queue's control-stack and wave-save-area
// contents through the kernel's debug path. It requires a CWSR area to
// already be attached to this queue.
func (q *Queue) WaveState() ([]byte, error) {
	if q.cwsrMem == nil {
		return nil, hsaerr.General("WaveState: queue has no context save/restore area")
	}

	args := kfd.GetQueueWaveStateArgs{
		CtlStackAddress: q.cwsrMem.GPUVA(),
		QueueID:         q.id,
	}
	if err := q.device.GetQueueWaveState(&args); err != nil {
		return nil, hsaerr.IO("get queue wave state", err)
	}

	used := args.CtlStackUsedSize + args.SaveAreaUsedSize
	if uint64(used) > q.cwsrMem.Size() {
		used = uint32(q.cwsrMem.Size())
	}
	snap := make([]byte, used)
	copy(snap, q.cwsrMem.Bytes()[:used])
	return snap, nil
}

// Close destroys the kernel queue object, then releases its backing
// memory. Idempotent.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		if q.id != 0 {
			_ = q.device.DestroyQueue(q.id)
		}
		if q.doorbellMem != nil {
			_ = q.doorbellMem.Close()
		}
		if q.cwsrMem != nil {
			_ = q.cwsrMem.Close()
		}
		if q.eopMem != nil {
			_ = q.eopMem.Close()
		}
	})
	return nil
}
