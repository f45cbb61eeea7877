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

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapFixed maps size bytes of fd at offset into the caller-reserved VA
// addr. golang.org/x/sys/unix.Mmap doesn't expose a hint address, so the
// manager goes straight to the raw syscall, mirroring libc's mmap(addr,
// ..., MAP_SHARED|MAP_FIXED, ...) used by the original thunk to line the
// CPU mapping up with the GPU's VA reservation.
func mmapFixed(fd uintptr, offset int64, addr, size uint64, prot int) (uintptr, error) {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		uintptr(addr),
		uintptr(size),
		uintptr(prot),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		fd,
		uintptr(offset),
	)
	if errno != 0 {
		return 0, fmt.Errorf("mmap: %w", errno)
	}
	return ret, nil
}

func munmap(addr, size uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(addr), uintptr(size), 0)
	if errno != 0 {
		return fmt.Errorf("munmap: %w", errno)
	}
	return nil
}
