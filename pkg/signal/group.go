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
	"sort"
	"time"

	"github.com/rocm-thunk/kfdthunk/pkg/event"
)

// WaitAny blocks until the value of any signals[i] satisfies
// conds[i] against compares[i], or timeoutClocks elapses. It returns
// the index of the first satisfying signal, or len(signals) on
// timeout. A single-signal call delegates to WaitRelaxed directly.
//
// Every signal in the group registers as waiting for the duration of
// the call, and the escalation path waits on the deduplicated set of
// their kernel events (multiple signals sharing one event, e.g. two
// doorbells on the same queue, are only waited on once).
func WaitAny(signals []*Signal, conds []Condition, compares []int64, timeoutClocks uint64, hint WaitState, frequencyHz uint64) int {
	n := len(signals)
	if n == 1 {
		val := signals[0].WaitRelaxed(conds[0], compares[0], timeoutClocks, hint, frequencyHz)
		if checkCondition(val, conds[0], compares[0]) {
			return 0
		}
		return 1
	}
	if frequencyHz == 0 {
		frequencyHz = 1_000_000_000
	}

	for _, s := range signals {
		s.waiting.Add(1)
	}
	defer func() {
		for _, s := range signals {
			s.waiting.Add(^uint32(0))
		}
	}()

	events := dedupEvents(signals)
	spin := time.Duration(wallSpinMicros) * time.Microsecond
	start := time.Now()

	var deadline time.Duration
	if timeoutClocks == Forever {
		deadline = math.MaxInt64
	} else {
		deadline = time.Duration(float64(timeoutClocks) / float64(frequencyHz) * float64(time.Second))
	}

	for {
		for i, s := range signals {
			if checkCondition(s.LoadRelaxed(), conds[i], compares[i]) {
				return i
			}
		}

		elapsed := time.Since(start)
		if timeoutClocks != Forever && elapsed >= deadline {
			return n
		}

		if hint == WaitActive || elapsed < spin {
			runtime.Gosched()
			continue
		}

		waitMS := uint32(math.MaxUint32)
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
		_, _ = signals[0].events.WaitOnMultiple(events, false, waitMS)
	}
}

// dedupEvents collects the distinct kernel events backing signals,
// sorted by event id, so a group wait never registers the same event
// twice.
func dedupEvents(signals []*Signal) []*event.Event {
	seen := make(map[uint32]*event.Event, len(signals))
	for _, s := range signals {
		seen[s.ev.ID()] = s.ev
	}
	out := make([]*event.Event, 0, len(seen))
	for _, ev := range seen {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
