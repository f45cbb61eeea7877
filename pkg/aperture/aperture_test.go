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

package aperture

import "testing"

func TestAllocateFirstFit(t *testing.T) {
	a := New(0x1000, 0x100000, 0x1000, 0)
	addr, ok := a.AllocateVA(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected success")
	}
	if addr != 0x1000 {
		t.Fatalf("got %#x, want %#x", addr, 0x1000)
	}
}

func TestAllocateRespectsGuardPages(t *testing.T) {
	a := New(0x1000, 0x100000, 0x1000, 1)
	addr1, ok := a.AllocateVA(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected success")
	}
	addr2, ok := a.AllocateVA(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected success")
	}
	if addr2-addr1 < 0x1000+0x1000 {
		t.Fatalf("guard pages not respected: addr1=%#x addr2=%#x", addr1, addr2)
	}
}

func TestFreeThenReallocateReusesSpace(t *testing.T) {
	a := New(0x1000, 0x3000, 0x1000, 0)
	addr1, ok := a.AllocateVA(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected success")
	}
	if _, ok := a.AllocateVA(0x1000, 0x1000); !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := a.AllocateVA(0x1000, 0x1000); ok {
		t.Fatal("expected aperture to be exhausted")
	}
	a.FreeVA(addr1, 0x1000)
	if _, ok := a.AllocateVA(0x1000, 0x1000); !ok {
		t.Fatal("expected reallocation after free to succeed")
	}
}

func TestAllocateExceedingSpanFails(t *testing.T) {
	a := New(0, 0x1000, 0x1000, 0)
	if _, ok := a.AllocateVA(0x10000, 0x1000); ok {
		t.Fatal("expected out-of-memory failure")
	}
}

func TestFreeUntrackedAddressDoesNotPanic(t *testing.T) {
	a := New(0x1000, 0x100000, 0x1000, 0)
	a.FreeVA(0x5000, 0x1000) // must not panic
}

func TestAllocationsRemainDisjoint(t *testing.T) {
	a := New(0x1000, 0x1000+1000*0x14000, 0x10, 2)
	var addrs []uint64
	for i := 0; i < 1000; i++ {
		addr, ok := a.AllocateVA(0x10000, 0x10)
		if !ok {
			t.Fatalf("allocation %d failed", i)
		}
		addrs = append(addrs, addr)
	}
	for i := 1; i < len(addrs); i++ {
		if addrs[i] < addrs[i-1]+0x10000 {
			t.Fatalf("overlap between allocation %d and %d: %#x, %#x", i-1, i, addrs[i-1], addrs[i])
		}
	}
}

func TestReallocateAfterBulkFreeNoLeak(t *testing.T) {
	a := New(0x1000, 0x1000+1000*0x10000, 0x1000, 0)
	var addrs []uint64
	for i := 0; i < 1000; i++ {
		addr, ok := a.AllocateVA(0x10000, 0x1000)
		if !ok {
			t.Fatalf("allocation %d failed", i)
		}
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		a.FreeVA(addr, 0x10000)
	}
	for i := 0; i < 1000; i++ {
		if _, ok := a.AllocateVA(0x10000, 0x1000); !ok {
			t.Fatalf("reallocation %d failed: VA leaked", i)
		}
	}
}
