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

import "testing"

func TestWaitAnySingleSignalDelegatesToWaitRelaxed(t *testing.T) {
	s, _ := newTestSignal(t, 5)
	idx := WaitAny([]*Signal{s}, []Condition{ConditionEq}, []int64{5}, Forever, WaitActive, 1_000_000_000)
	if idx != 0 {
		t.Fatalf("WaitAny = %d, want 0", idx)
	}
}

func TestWaitAnyReturnsFirstSatisfyingIndex(t *testing.T) {
	s0, _ := newTestSignal(t, 0)
	s1, _ := newTestSignal(t, 9)
	idx := WaitAny(
		[]*Signal{s0, s1},
		[]Condition{ConditionEq, ConditionEq},
		[]int64{1, 9},
		1_000_000,
		WaitActive,
		1_000_000_000,
	)
	if idx != 1 {
		t.Fatalf("WaitAny = %d, want 1", idx)
	}
}

func TestWaitAnyTimesOutWithLenSignals(t *testing.T) {
	s0, _ := newTestSignal(t, 0)
	s1, _ := newTestSignal(t, 0)
	idx := WaitAny(
		[]*Signal{s0, s1},
		[]Condition{ConditionEq, ConditionEq},
		[]int64{1, 1},
		1,
		WaitActive,
		1_000_000_000,
	)
	if idx != 2 {
		t.Fatalf("WaitAny timeout = %d, want 2 (len(signals))", idx)
	}
}
