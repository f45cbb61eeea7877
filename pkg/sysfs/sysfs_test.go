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

package sysfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadPropertiesBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "properties")
	writeFile(t, path, "cpu_cores_count 8\ngfx_target_version 90000\n\nsimd_count 256\n")

	props, err := ReadProperties(path)
	if err != nil {
		t.Fatal(err)
	}
	if props["cpu_cores_count"] != 8 || props["gfx_target_version"] != 90000 || props["simd_count"] != 256 {
		t.Fatalf("got %+v", props)
	}
}

func TestReadPropertiesSkipsUnparsableLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "properties")
	writeFile(t, path, "simd_count 256\nmalformed_line_only_one_field\ndevice_id 0x73bf\n")

	props, err := ReadProperties(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(props), props)
	}
	if props["device_id"] != 0x73bf {
		t.Fatalf("hex value not parsed: %+v", props)
	}
}

func TestListNodeIDsSortsNumerically(t *testing.T) {
	dir := t.TempDir()
	TopologyRoot = dir
	for _, id := range []string{"10", "2", "1", "not-a-node"} {
		writeFile(t, filepath.Join(dir, "nodes", id, "properties"), "x 1\n")
	}
	ids, err := ListNodeIDs()
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{1, 2, 10}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestReadGPUID(t *testing.T) {
	dir := t.TempDir()
	TopologyRoot = dir
	writeFile(t, filepath.Join(dir, "nodes", "1", "gpu_id"), "4660\n")

	id, err := ReadGPUID(1)
	if err != nil {
		t.Fatal(err)
	}
	if id != 4660 {
		t.Fatalf("got %d, want 4660", id)
	}
}

func TestReadGPUIDMissingFile(t *testing.T) {
	dir := t.TempDir()
	TopologyRoot = dir

	if _, err := ReadGPUID(0); err == nil || !os.IsNotExist(err) {
		t.Fatalf("expected IsNotExist error, got %v", err)
	}
}

func TestReadSubObjectsMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	TopologyRoot = dir
	writeFile(t, filepath.Join(dir, "nodes", "0", "properties"), "x 1\n")

	objs, err := ReadSubObjects(0, SubObjectP2PLinks)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 0 {
		t.Fatalf("got %d objects, want 0", len(objs))
	}
}

func TestReadSubObjectsOrdering(t *testing.T) {
	dir := t.TempDir()
	TopologyRoot = dir
	writeFile(t, filepath.Join(dir, "nodes", "0", "mem_banks", "0", "properties"), "heap_type 0\n")
	writeFile(t, filepath.Join(dir, "nodes", "0", "mem_banks", "1", "properties"), "heap_type 1\n")

	objs, err := ReadSubObjects(0, SubObjectMemBanks)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 || objs[0]["heap_type"] != 0 || objs[1]["heap_type"] != 1 {
		t.Fatalf("got %+v", objs)
	}
}

func TestParseCPUInfoJoinsByApicID(t *testing.T) {
	in := strings.NewReader("processor\t: 0\napicid\t\t: 0\nmodel name\t: AMD EPYC 7763\n\nprocessor\t: 1\napicid\t\t: 1\nmodel name\t: AMD EPYC 7763\n")

	info, err := parseCPUInfo(in)
	if err != nil {
		t.Fatal(err)
	}
	if info[0] != "AMD EPYC 7763" || info[1] != "AMD EPYC 7763" {
		t.Fatalf("got %+v", info)
	}
}

func TestReadAmdgpuIDsSkipsComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amdgpu.ids")
	writeFile(t, path, "# comment line\n73bf, 00, Radeon RX 6800\n73df, 00, Radeon RX 6700 XT\n")

	AmdgpuIDsPaths = []string{path}
	entries, err := ReadAmdgpuIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].DeviceID != 0x73bf || entries[0].Name != "Radeon RX 6800" {
		t.Fatalf("got %+v", entries[0])
	}
}
