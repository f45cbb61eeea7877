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

// Package cleanup provides a Go substitute for RAII-style unwinding: a
// multi-step constructor registers one undo action per completed step, and
// calls Clean on any early return. The caller Releases the Cleanup once the
// object fully owns its resources, so a later explicit Close is the only
// path that runs the undo actions.
package cleanup

// Cleanup runs a series of registered functions in LIFO order unless
// released. It is the Go analogue of a partially-constructed Rust value
// whose Drop impl only runs on the fields filled in so far.
type Cleanup struct {
	cleanups []func()
}

// Make creates a Cleanup that will invoke f when Clean is called, unless
// Release is called first.
func Make(f func()) Cleanup {
	return Cleanup{cleanups: []func(){f}}
}

// Add registers another undo action, run before any already registered.
func (c *Cleanup) Add(f func()) {
	c.cleanups = append(c.cleanups, f)
}

// Clean runs all registered undo actions in reverse (LIFO) order and clears
// the list. Safe to call multiple times.
func (c *Cleanup) Clean() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

// Release discards all registered undo actions without running them,
// signaling that construction succeeded and ownership has transferred.
func (c *Cleanup) Release() {
	c.cleanups = nil
}
