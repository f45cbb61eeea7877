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

// Package signal implements the runtime-visible half of the signal
// ABI: a pool of GPU-addressable signal slots, atomic operations on
// them, and the release-notify/spin-then-sleep waiting protocol that
// lets a waiting CPU thread sleep until a GPU packet or another thread
// flips the value.
package signal

import (
	"sync/atomic"
)

// Signal kind codes, written into AmdSignal.Kind. Negative values mark
// doorbell-backed signals that a GPU can set directly without a
// kernel round trip.
const (
	kindInvalid         = 0
	kindUser            = 1
	kindDoorbell        = -1
	kindLegacyDoorbell  = -2
)

// signalMagic is the fixed id stamped into every SharedSignal slot so
// that a stale pointer into freed pool memory can be told apart from a
// live signal.
const signalMagic = 0x71FCCA6A3D5D5276

// AmdSignal is the hardware-visible portion of a signal: the fields a
// GPU command processor reads and writes directly. Its layout mirrors
// the driver ABI byte for byte; every field's size and offset is load
// bearing.
//
// Go has no equivalent of a forced type alignment above the widest
// field (Rust's AmdSignal carries #[repr(C, align(64))]). We settle
// for unsafe.Sizeof(AmdSignal{}) == 64 and unsafe.Alignof == 8, and
// get the hardware's required 64-byte slot alignment from where
// SignalPool places slots instead of from the Go type declaration:
// see pool.go.
type AmdSignal struct {
	Kind            int64
	Value           atomic.Int64
	EventMailboxPtr uint64
	EventID         uint32
	Reserved1       uint32
	StartTS         uint64
	EndTS           uint64
	QueuePtr        uint64
	Reserved3       [2]uint32
}

// SharedSignal adds the host-side bookkeeping fields that sit after
// AmdSignal in the same 128-byte slot: SDMA timestamps, a back
// pointer usable by async copy engines, and the magic id.
type SharedSignal struct {
	AmdSignal

	SdmaStartTS uint64
	CoreSignal  uint64
	ID          uint64
	reserved    [8]byte
	SdmaEndTS   uint64
	reserved2   [24]byte
}
