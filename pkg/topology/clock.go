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

package topology

import (
	"github.com/rocm-thunk/kfdthunk/internal/log"
	"golang.org/x/sys/unix"
)

// systemClockFreq derives the system timestamp frequency from the
// monotonic clock's reported resolution: 1e9 / tv_nsec when nonzero,
// else a default of 1e9 (nanosecond resolution).
func systemClockFreq() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		log.Warningf("topology: clock_getres(CLOCK_MONOTONIC): %v", err)
		return 1e9
	}
	if ts.Nsec > 0 {
		return uint64(1e9 / ts.Nsec)
	}
	return 1e9
}
