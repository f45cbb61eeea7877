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

package devicetable

import "testing"

func TestLookupHit(t *testing.T) {
	e, ok := Lookup(0x73BF)
	if !ok {
		t.Fatal("expected hit")
	}
	if e.Codename != "navi21" || e.Major != 10 || e.Minor != 3 {
		t.Fatalf("got %+v", e)
	}
}

func TestLookupMiss(t *testing.T) {
	if _, ok := Lookup(0xFFFF); ok {
		t.Fatal("expected miss")
	}
}
