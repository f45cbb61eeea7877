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

// Package kfddevice wraps the /dev/kfd character device and the
// companion /dev/dri/renderD<minor> DRM render nodes, translating each
// ioctl group in pkg/abi/kfd into a typed Go method.
package kfddevice

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rocm-thunk/kfdthunk/internal/log"
	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
)

const defaultKFDPath = "/dev/kfd"

// Device is a handle to the KFD driver device. It is safe for concurrent
// use; the underlying fd supports concurrent ioctls and Go does not need
// the Rust original's Arc<File> wrapper to share it across goroutines, a
// plain struct held by pointer does the same job.
type Device struct {
	file *os.File

	closeOnce sync.Once
}

// Open opens the KFD driver device at path, or defaultKFDPath if path is
// empty.
func Open(path string) (*Device, error) {
	if path == "" {
		path = defaultKFDPath
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, hsaerr.IO(fmt.Sprintf("open %s", path), err)
	}
	return &Device{file: f}, nil
}

// Close releases the underlying file descriptor. Idempotent.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if cerr := d.file.Close(); cerr != nil {
			log.Warningf("kfddevice: close: %v", cerr)
			err = cerr
		}
	})
	return err
}

// FD returns the underlying raw file descriptor, used by DRM render-node
// acquire-vm sequencing and mmap calls elsewhere in the thunk.
func (d *Device) FD() uintptr { return d.file.Fd() }

func (d *Device) ioctl(cmd uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return hsaerr.IO(fmt.Sprintf("ioctl %#x", cmd), errno)
	}
	return nil
}

// ===========================================================================
// Versioning
// ===========================================================================

// GetVersion returns the KFD driver's reported version.
func (d *Device) GetVersion() (kfd.GetVersionArgs, error) {
	var args kfd.GetVersionArgs
	err := d.ioctl(kfd.GetVersion, unsafe.Pointer(&args))
	return args, err
}

// ===========================================================================
// Queue management
// ===========================================================================

// CreateQueue issues AMDKFD_IOC_CREATE_QUEUE. args.QueueID and
// args.DoorbellOffset are filled in by the kernel on success.
func (d *Device) CreateQueue(args *kfd.CreateQueueArgs) error {
	return d.ioctl(kfd.CreateQueue, unsafe.Pointer(args))
}

// DestroyQueue issues AMDKFD_IOC_DESTROY_QUEUE.
func (d *Device) DestroyQueue(queueID uint32) error {
	args := kfd.DestroyQueueArgs{QueueID: queueID}
	return d.ioctl(kfd.DestroyQueue, unsafe.Pointer(&args))
}

// UpdateQueue issues AMDKFD_IOC_UPDATE_QUEUE.
func (d *Device) UpdateQueue(args *kfd.UpdateQueueArgs) error {
	return d.ioctl(kfd.UpdateQueue, unsafe.Pointer(args))
}

// SetCUMask issues AMDKFD_IOC_SET_CU_MASK. mask is pinned for the
// duration of the call.
func (d *Device) SetCUMask(queueID uint32, mask []uint32) error {
	if len(mask) == 0 {
		return hsaerr.General("SetCUMask: empty mask")
	}
	args := kfd.SetCUMaskArgs{
		QueueID:          queueID,
		NumCUMaskEntries: uint32(len(mask)),
		CUMaskPtr:        uint64(uintptr(unsafe.Pointer(&mask[0]))),
	}
	return d.ioctl(kfd.SetCUMask, unsafe.Pointer(&args))
}

// GetQueueWaveState issues AMDKFD_IOC_GET_QUEUE_WAVE_STATE.
func (d *Device) GetQueueWaveState(args *kfd.GetQueueWaveStateArgs) error {
	return d.ioctl(kfd.GetQueueWaveState, unsafe.Pointer(args))
}

// AllocQueueGWS issues AMDKFD_IOC_ALLOC_QUEUE_GWS.
func (d *Device) AllocQueueGWS(args *kfd.AllocQueueGWSArgs) error {
	return d.ioctl(kfd.AllocQueueGWS, unsafe.Pointer(args))
}

// ===========================================================================
// Memory management
// ===========================================================================

// AcquireVM issues AMDKFD_IOC_ACQUIRE_VM, binding the process's KFD
// context to the DRM render node's VM.
func (d *Device) AcquireVM(gpuID uint32, drmFD uint32) error {
	args := kfd.AcquireVMArgs{GPUID: gpuID, DrmFD: drmFD}
	return d.ioctl(kfd.AcquireVM, unsafe.Pointer(&args))
}

// SetMemoryPolicy issues AMDKFD_IOC_SET_MEMORY_POLICY.
func (d *Device) SetMemoryPolicy(args *kfd.SetMemoryPolicyArgs) error {
	return d.ioctl(kfd.SetMemoryPolicy, unsafe.Pointer(args))
}

// AllocMemoryOfGPU issues AMDKFD_IOC_ALLOC_MEMORY_OF_GPU. args.Handle and
// args.MmapOffset are filled in by the kernel on success.
func (d *Device) AllocMemoryOfGPU(args *kfd.AllocMemoryOfGPUArgs) error {
	return d.ioctl(kfd.AllocMemoryOfGPU, unsafe.Pointer(args))
}

// FreeMemoryOfGPU issues AMDKFD_IOC_FREE_MEMORY_OF_GPU. EPERM is the
// kernel's response to freeing memory still pinned by an in-flight DMA and
// is treated by callers as benign, not reported here.
func (d *Device) FreeMemoryOfGPU(handle uint64) error {
	args := kfd.FreeMemoryOfGPUArgs{Handle: handle}
	return d.ioctl(kfd.FreeMemoryOfGPU, unsafe.Pointer(&args))
}

// MapMemoryToGPU issues AMDKFD_IOC_MAP_MEMORY_TO_GPU against the given
// device ids.
func (d *Device) MapMemoryToGPU(handle uint64, deviceIDs []uint32) (uint32, error) {
	if len(deviceIDs) == 0 {
		return 0, hsaerr.General("MapMemoryToGPU: empty device id list")
	}
	args := kfd.MapMemoryToGPUArgs{
		Handle:            handle,
		DeviceIDsArrayPtr: uint64(uintptr(unsafe.Pointer(&deviceIDs[0]))),
		NDevices:          uint32(len(deviceIDs)),
	}
	err := d.ioctl(kfd.MapMemoryToGPU, unsafe.Pointer(&args))
	return args.NSuccessMapped, err
}

// UnmapMemoryFromGPU issues AMDKFD_IOC_UNMAP_MEMORY_FROM_GPU. An
// already-unmapped handle is not reported as an error by the kernel; it
// simply reports zero devices unmapped.
func (d *Device) UnmapMemoryFromGPU(handle uint64, deviceIDs []uint32) error {
	if len(deviceIDs) == 0 {
		return hsaerr.General("UnmapMemoryFromGPU: empty device id list")
	}
	args := kfd.UnmapMemoryFromGPUArgs{
		Handle:            handle,
		DeviceIDsArrayPtr: uint64(uintptr(unsafe.Pointer(&deviceIDs[0]))),
		NDevices:          uint32(len(deviceIDs)),
	}
	return d.ioctl(kfd.UnmapMemoryFromGPU, unsafe.Pointer(&args))
}

// AvailableMemory issues AMDKFD_IOC_AVAILABLE_MEMORY.
func (d *Device) AvailableMemory(gpuID uint32) (uint64, error) {
	args := kfd.AvailableMemoryArgs{GPUID: gpuID}
	err := d.ioctl(kfd.AvailableMemory, unsafe.Pointer(&args))
	return args.Available, err
}

// SetScratchBackingVA issues AMDKFD_IOC_SET_SCRATCH_BACKING_VA.
func (d *Device) SetScratchBackingVA(gpuID uint32, va uint64) error {
	args := kfd.SetScratchBackingVAArgs{VAAddr: va, GPUID: gpuID}
	return d.ioctl(kfd.SetScratchBackingVA, unsafe.Pointer(&args))
}

// ===========================================================================
// Topology & system info
// ===========================================================================

// GetProcessAperturesNew issues AMDKFD_IOC_GET_PROCESS_APERTURES_NEW
// against a caller-allocated buffer sized for maxNodes apertures, and
// returns the slice trimmed to the node count the kernel actually filled
// in.
func (d *Device) GetProcessAperturesNew(maxNodes uint32) ([]kfd.ProcessDeviceAperture, error) {
	buf := make([]kfd.ProcessDeviceAperture, maxNodes)
	args := kfd.GetProcessAperturesNewArgs{
		KernelBufferPtr: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		NumOfNodes:      maxNodes,
	}
	if err := d.ioctl(kfd.GetProcessAperturesNew, unsafe.Pointer(&args)); err != nil {
		return nil, err
	}
	if args.NumOfNodes > maxNodes {
		args.NumOfNodes = maxNodes
	}
	return buf[:args.NumOfNodes], nil
}

// GetProcessAperturesOld issues the legacy, fixed-size
// AMDKFD_IOC_GET_PROCESS_APERTURES, retained for kernels predating the
// "new" variant.
func (d *Device) GetProcessAperturesOld() (kfd.GetProcessAperturesArgs, error) {
	var args kfd.GetProcessAperturesArgs
	err := d.ioctl(kfd.GetProcessAperturesOld, unsafe.Pointer(&args))
	return args, err
}

// GetTileConfig issues AMDKFD_IOC_GET_TILE_CONFIG.
func (d *Device) GetTileConfig(args *kfd.GetTileConfigArgs) error {
	return d.ioctl(kfd.GetTileConfig, unsafe.Pointer(args))
}

// GetClockCounters issues AMDKFD_IOC_GET_CLOCK_COUNTERS.
func (d *Device) GetClockCounters(gpuID uint32) (kfd.GetClockCountersArgs, error) {
	args := kfd.GetClockCountersArgs{GPUID: gpuID}
	err := d.ioctl(kfd.GetClockCounters, unsafe.Pointer(&args))
	return args, err
}

// ===========================================================================
// Events & synchronization
// ===========================================================================

// CreateEvent issues AMDKFD_IOC_CREATE_EVENT.
func (d *Device) CreateEvent(args *kfd.CreateEventArgs) error {
	return d.ioctl(kfd.CreateEvent, unsafe.Pointer(args))
}

// DestroyEvent issues AMDKFD_IOC_DESTROY_EVENT.
func (d *Device) DestroyEvent(eventID uint32) error {
	args := kfd.DestroyEventArgs{EventID: eventID}
	return d.ioctl(kfd.DestroyEvent, unsafe.Pointer(&args))
}

// SetEvent issues AMDKFD_IOC_SET_EVENT.
func (d *Device) SetEvent(eventID uint32) error {
	args := kfd.SetEventArgs{EventID: eventID}
	return d.ioctl(kfd.SetEvent, unsafe.Pointer(&args))
}

// ResetEvent issues AMDKFD_IOC_RESET_EVENT.
func (d *Device) ResetEvent(eventID uint32) error {
	args := kfd.ResetEventArgs{EventID: eventID}
	return d.ioctl(kfd.ResetEvent, unsafe.Pointer(&args))
}

// WaitEvents issues AMDKFD_IOC_WAIT_EVENTS, blocking the calling
// goroutine's OS thread until the driver reports completion or timeout.
func (d *Device) WaitEvents(events []kfd.EventWaitResult, waitForAll bool, timeoutMS uint32) (waitResult uint32, err error) {
	if len(events) == 0 {
		return 0, hsaerr.General("WaitEvents: empty event list")
	}
	var waitAll uint32
	if waitForAll {
		waitAll = 1
	}
	args := kfd.WaitEventsArgs{
		EventsPtr:  uint64(uintptr(unsafe.Pointer(&events[0]))),
		NumEvents:  uint32(len(events)),
		WaitForAll: waitAll,
		TimeoutMS:  timeoutMS,
	}
	ioctlErr := d.ioctl(kfd.WaitEvents, unsafe.Pointer(&args))
	return args.WaitResult, ioctlErr
}

// ===========================================================================
// Trap handling & debugging
// ===========================================================================

// SetTrapHandler issues AMDKFD_IOC_SET_TRAP_HANDLER.
func (d *Device) SetTrapHandler(args *kfd.SetTrapHandlerArgs) error {
	return d.ioctl(kfd.SetTrapHandler, unsafe.Pointer(args))
}

// DbgTrap issues AMDKFD_IOC_DBG_TRAP, the primary entry point for the
// modern debugger API.
func (d *Device) DbgTrap(args *kfd.TrapArgs) error {
	return d.ioctl(kfd.DbgTrap, unsafe.Pointer(args))
}

// DbgRegisterDeprecated issues the pre-DbgTrap
// AMDKFD_IOC_DBG_REGISTER_DEPRECATED, retained for completeness.
func (d *Device) DbgRegisterDeprecated(gpuID uint32) error {
	args := kfd.DbgRegisterArgs{GPUID: gpuID}
	return d.ioctl(kfd.DbgRegisterDeprecated, unsafe.Pointer(&args))
}

// DbgUnregisterDeprecated issues AMDKFD_IOC_DBG_UNREGISTER_DEPRECATED.
func (d *Device) DbgUnregisterDeprecated(gpuID uint32) error {
	args := kfd.DbgUnregisterArgs{GPUID: gpuID}
	return d.ioctl(kfd.DbgUnregisterDeprecated, unsafe.Pointer(&args))
}

// ===========================================================================
// DMA-buf interop
// ===========================================================================

// GetDMABufInfo issues AMDKFD_IOC_GET_DMABUF_INFO.
func (d *Device) GetDMABufInfo(args *kfd.GetDMABufInfoArgs) error {
	return d.ioctl(kfd.GetDMABufInfo, unsafe.Pointer(args))
}

// ImportDMABuf issues AMDKFD_IOC_IMPORT_DMABUF.
func (d *Device) ImportDMABuf(args *kfd.ImportDMABufArgs) error {
	return d.ioctl(kfd.ImportDMABuf, unsafe.Pointer(args))
}

// ExportDMABuf issues AMDKFD_IOC_EXPORT_DMABUF.
func (d *Device) ExportDMABuf(args *kfd.ExportDMABufArgs) error {
	return d.ioctl(kfd.ExportDMABuf, unsafe.Pointer(args))
}

// ===========================================================================
// Advanced features: SVM, SMI, CRIU, XNACK, IPC, SPM, PC sampling, profiler
// ===========================================================================

// SVM issues AMDKFD_IOC_SVM with a variable-length attribute array.
func (d *Device) SVM(start, size uint64, op uint32, attrs []kfd.SVMAttribute) error {
	args := kfd.SVMArgs{Start: start, Size: size, Op: op}
	if len(attrs) > 0 {
		args.NAttrs = uint32(len(attrs))
		args.AttrsPtr = uint64(uintptr(unsafe.Pointer(&attrs[0])))
	}
	return d.ioctl(kfd.SVM, unsafe.Pointer(&args))
}

// SetXNACKMode issues AMDKFD_IOC_SET_XNACK_MODE.
func (d *Device) SetXNACKMode(enabled bool) error {
	var v int32
	if enabled {
		v = 1
	}
	args := kfd.SetXNACKModeArgs{XNACKEnabled: v}
	return d.ioctl(kfd.SetXNACKMode, unsafe.Pointer(&args))
}

// SMIEvents issues AMDKFD_IOC_SMI_EVENTS, returning a pollable fd for the
// event stream.
func (d *Device) SMIEvents(gpuID uint32) (uint32, error) {
	args := kfd.SMIEventsArgs{GPUID: gpuID}
	err := d.ioctl(kfd.SMIEvents, unsafe.Pointer(&args))
	return args.AnonFD, err
}

// CRIUOp issues AMDKFD_IOC_CRIU_OP.
func (d *Device) CRIUOp(args *kfd.CRIUArgs) error {
	return d.ioctl(kfd.CRIUOp, unsafe.Pointer(args))
}

// IPCExportHandle issues AMDKFD_IOC_IPC_EXPORT_HANDLE.
func (d *Device) IPCExportHandle(args *kfd.IPCExportHandleArgs) error {
	return d.ioctl(kfd.IPCExportHandle, unsafe.Pointer(args))
}

// IPCImportHandle issues AMDKFD_IOC_IPC_IMPORT_HANDLE.
func (d *Device) IPCImportHandle(args *kfd.IPCImportHandleArgs) error {
	return d.ioctl(kfd.IPCImportHandle, unsafe.Pointer(args))
}

// CrossMemoryCopy issues AMDKFD_IOC_CROSS_MEMORY_COPY.
func (d *Device) CrossMemoryCopy(args *kfd.CrossMemoryCopyArgs) error {
	return d.ioctl(kfd.CrossMemoryCopy, unsafe.Pointer(args))
}

// RuntimeEnable issues AMDKFD_IOC_RUNTIME_ENABLE, coordinating debugger
// attach with the runtime's own trap handler setup.
func (d *Device) RuntimeEnable(args *kfd.RuntimeEnableArgs) error {
	return d.ioctl(kfd.RuntimeEnable, unsafe.Pointer(args))
}

// SPM issues AMDKFD_IOC_RLC_SPM (streaming performance monitor control).
func (d *Device) SPM(args *kfd.SPMCounterControlArgs) error {
	return d.ioctl(kfd.SPM, unsafe.Pointer(args))
}

// PCSample issues AMDKFD_IOC_PC_SAMPLE.
func (d *Device) PCSample(args *kfd.PCSampleArgs) error {
	return d.ioctl(kfd.PCSample, unsafe.Pointer(args))
}

// Profiler issues AMDKFD_IOC_PROFILER.
func (d *Device) Profiler(args *kfd.ProfilerArgs) error {
	return d.ioctl(kfd.Profiler, unsafe.Pointer(args))
}

// AIS issues the vendor-extension AMDKFD_IOC_AIS_OP. Exposed for
// completeness; no core thunk path calls it.
func (d *Device) AIS(args *kfd.AISArgs) error {
	return d.ioctl(kfd.AIS, unsafe.Pointer(args))
}
