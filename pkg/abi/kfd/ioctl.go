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

// Package kfd tracks the ABI of the Linux AMD KFD (Kernel Fusion Driver)
// exposed through /dev/kfd: https://github.com/torvalds/linux under
// include/uapi/linux/kfd_ioctl.h. It exposes ioctl command numbers and
// their argument struct layouts bit-exact, and performs no I/O itself.
package kfd

// Standard Linux ioctl number packing (asm-generic/ioctl.h).
const (
	iocNrbits   = 8
	iocTypebits = 8
	iocSizebits = 14
	iocDirbits  = 2

	iocNrshift   = 0
	iocTypeshift = iocNrshift + iocNrbits
	iocSizeshift = iocTypeshift + iocTypebits
	iocDirshift  = iocSizeshift + iocSizebits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return (dir << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (size << iocSizeshift)
}

// kfdType is the ioctl type byte for every AMDKFD_IOC_* command.
const kfdType = 0x4B // 'K'

func io(nr uint32) uint32 { return ioc(iocNone, kfdType, nr, 0) }

func ior(nr, size uint32) uint32 { return ioc(iocRead, kfdType, nr, size) }

func iow(nr, size uint32) uint32 { return ioc(iocWrite, kfdType, nr, size) }

func iowr(nr, size uint32) uint32 { return ioc(iocRead|iocWrite, kfdType, nr, size) }
