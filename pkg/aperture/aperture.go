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

// Package aperture implements a first-fit virtual-address allocator over
// a bounded range, the building block every per-node and process-wide VA
// range in the thunk is built from.
package aperture

import (
	"github.com/google/btree"

	"github.com/rocm-thunk/kfdthunk/internal/log"
)

const pageSize = 4096

// occupiedRange is one tracked allocation, keyed by its (guard-inclusive)
// start address. Stored in the btree ordered by Start so neighbors can be
// found by ascending iteration, mirroring the BTreeMap<u64, u64> walk in
// the original allocator.
type occupiedRange struct {
	Start uint64
	Size  uint64
}

func (r occupiedRange) Less(other btree.Item) bool {
	return r.Start < other.(occupiedRange).Start
}

// Aperture is a managed VA range: closely mirrors manageable_aperture_t
// from the original runtime's fmm.c port.
type Aperture struct {
	base       uint64
	limit      uint64
	align      uint64
	guardPages uint64

	occupied *btree.BTree
}

// New constructs an Aperture spanning [base, limit] with the given
// minimum alignment and guard-page count applied to every allocation.
func New(base, limit, align, guardPages uint64) *Aperture {
	return &Aperture{
		base:       base,
		limit:      limit,
		align:      align,
		guardPages: guardPages,
		occupied:   btree.New(32),
	}
}

// Bounds returns the aperture's [base, limit] range.
func (a *Aperture) Bounds() (base, limit uint64) { return a.base, a.limit }

func alignUp(val, align uint64) uint64 {
	return (val + align - 1) &^ (align - 1)
}

// AllocateVA reserves a range of size bytes satisfying align (widened to
// at least the aperture's own minimum alignment), returning the
// guard-excluded usable address. Reports false if no hole of sufficient
// size exists.
func (a *Aperture) AllocateVA(size, align uint64) (uint64, bool) {
	if align < a.align {
		align = a.align
	}
	guardSize := a.guardPages * pageSize
	requestSize := size + 2*guardSize

	candidate := alignUp(a.base, align)

	var found bool
	var foundStart uint64
	a.occupied.Ascend(func(item btree.Item) bool {
		r := item.(occupiedRange)
		allocEnd := r.Start + r.Size
		if r.Start > candidate {
			gap := r.Start - candidate
			if gap >= requestSize {
				found = true
				foundStart = candidate
				return false
			}
		}
		candidate = alignUp(allocEnd, align)
		return true
	})

	if found {
		a.occupied.ReplaceOrInsert(occupiedRange{Start: foundStart, Size: requestSize})
		return foundStart + guardSize, true
	}

	if candidate+requestSize <= a.limit {
		a.occupied.ReplaceOrInsert(occupiedRange{Start: candidate, Size: requestSize})
		return candidate + guardSize, true
	}

	return 0, false
}

// FreeVA releases a previously allocated range back to the aperture.
// Mirrors the original's tolerant behavior: an untracked address is
// logged, not an error, since drop paths must never fail.
func (a *Aperture) FreeVA(addr uint64, _size uint64) {
	guardSize := a.guardPages * pageSize
	trackedStart := addr - guardSize
	if item := a.occupied.Delete(occupiedRange{Start: trackedStart}); item == nil {
		log.Warningf("aperture: tried to free VA %#x which was not tracked", addr)
	}
}
