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

package signal

import (
	"math"
	"runtime"
	"time"
	"unsafe"

	"github.com/rocm-thunk/kfdthunk/pkg/event"
)

// Forever is the sentinel timeout meaning "wait with no deadline",
// matching the kernel's UINT64_MAX convention.
const Forever = ^uint64(0)

const (
	tscSpinMicros  = 200
	wallSpinMicros = 20

	mwaitxIdleCycles   = 60000
	mwaitxActiveCycles = 1000
)

// WaitRelaxed blocks until the signal's value satisfies cond relative
// to compare, or until timeoutClocks clock ticks (at frequencyHz) have
// elapsed. It spins briefly, then falls back to sleeping on the
// signal's kernel event, waking early on every notifying write. Pass
// Forever for timeoutClocks to wait with no deadline.
//
// Go's atomics give loads and stores full sequential consistency, so
// there is no separate WaitAcquire: a plain load already observes
// every release-ordered write that happened-before it.
func (s *Signal) WaitRelaxed(cond Condition, compare int64, timeoutClocks uint64, hint WaitState, frequencyHz uint64) int64 {
	if frequencyHz == 0 {
		frequencyHz = 1_000_000_000
	}
	useMwaitx := supportsMWAITX()
	useTSC := isTSCSafe()

	s.waiting.Add(1)
	defer s.waiting.Add(^uint32(0))

	if useTSC {
		return s.waitTSC(cond, compare, timeoutClocks, hint, frequencyHz, useMwaitx)
	}
	return s.waitWallClock(cond, compare, timeoutClocks, hint, frequencyHz, useMwaitx)
}

// WaitAcquire is WaitRelaxed; see its doc comment.
func (s *Signal) WaitAcquire(cond Condition, compare int64, timeoutClocks uint64, hint WaitState, frequencyHz uint64) int64 {
	return s.WaitRelaxed(cond, compare, timeoutClocks, hint, frequencyHz)
}

func (s *Signal) waitTSC(cond Condition, compare int64, timeoutClocks uint64, hint WaitState, frequencyHz uint64, useMwaitx bool) int64 {
	start := rdtsc()
	spinCycles := (tscSpinMicros * frequencyHz) / 1_000_000

	for {
		if val := s.LoadRelaxed(); checkCondition(val, cond, compare) {
			return val
		}

		elapsed := rdtsc() - start
		if timeoutClocks != Forever && elapsed >= timeoutClocks {
			return s.LoadRelaxed()
		}

		if hint == WaitActive || elapsed < spinCycles {
			if useMwaitx {
				s.monitorWait(hint)
			} else {
				runtime.Gosched()
			}
			continue
		}

		waitMS := remainingMillis(timeoutClocks, elapsed, frequencyHz)
		s.sleepOnEvent(waitMS)
	}
}

func (s *Signal) waitWallClock(cond Condition, compare int64, timeoutClocks uint64, hint WaitState, frequencyHz uint64, useMwaitx bool) int64 {
	start := time.Now()
	spin := time.Duration(wallSpinMicros) * time.Microsecond

	var deadline time.Duration
	if timeoutClocks == Forever {
		deadline = math.MaxInt64
	} else {
		deadline = time.Duration(float64(timeoutClocks) / float64(frequencyHz) * float64(time.Second))
	}

	for {
		if val := s.LoadRelaxed(); checkCondition(val, cond, compare) {
			return val
		}

		elapsed := time.Since(start)
		if timeoutClocks != Forever && elapsed >= deadline {
			return s.LoadRelaxed()
		}

		if hint == WaitActive || elapsed < spin {
			if useMwaitx {
				s.monitorWait(hint)
			} else {
				runtime.Gosched()
			}
			continue
		}

		var waitMS uint32 = math.MaxUint32
		if timeoutClocks != Forever {
			remaining := deadline - elapsed
			ms := remaining.Milliseconds()
			if ms < 0 {
				ms = 0
			}
			if ms > math.MaxUint32 {
				ms = math.MaxUint32
			}
			waitMS = uint32(ms)
		}
		s.sleepOnEvent(waitMS)
	}
}

func remainingMillis(timeoutClocks, elapsed, frequencyHz uint64) uint32 {
	if timeoutClocks == Forever {
		return math.MaxUint32
	}
	remaining := timeoutClocks - elapsed
	ms := (remaining * 1000) / frequencyHz
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

// sleepOnEvent blocks on the signal's kernel event for up to waitMS.
// It never decides the wait condition is satisfied itself; it only
// wakes the spin loop above early so it can re-check.
func (s *Signal) sleepOnEvent(waitMS uint32) {
	_, _ = s.events.WaitOnMultiple([]*event.Event{s.ev}, false, waitMS)
}

// monitorWait arms MONITORX on the signal's value word and retires
// with MWAITX, an idle pause that returns on either a write to the
// watched line or the given cycle budget, whichever comes first.
func (s *Signal) monitorWait(hint WaitState) {
	monitorx(unsafe.Pointer(s.val()))
	cycles := uint32(mwaitxIdleCycles)
	if hint == WaitActive {
		cycles = mwaitxActiveCycles
	}
	mwaitx(cycles)
}
