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

//go:build !amd64

package signal

import "unsafe"

// supportsMWAITX always reports false outside amd64: MONITORX/MWAITX
// are AMD-specific instructions with no portable equivalent.
func supportsMWAITX() bool { return false }

// isTSCSafe always reports false outside amd64, forcing the
// wall-clock spin path.
func isTSCSafe() bool { return false }

func rdtsc() uint64 { return 0 }

func monitorx(addr unsafe.Pointer) {}

func mwaitx(timeoutCycles uint32) {}
