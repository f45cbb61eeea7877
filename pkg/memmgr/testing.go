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

// NewTestAllocation builds a detached Allocation backed by an
// already-resident buffer, for use by fake memoryAllocator
// implementations in other packages' tests. Close on the result never
// touches real kernel or mmap state.
func NewTestAllocation(ptr uintptr, size, va, handle uint64) *Allocation {
	return &Allocation{
		ptr:    ptr,
		size:   size,
		va:     va,
		handle: handle,
	}
}
