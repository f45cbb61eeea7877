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

package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rocm-thunk/kfdthunk/internal/config"
	"github.com/rocm-thunk/kfdthunk/pkg/sysfs"
)

func writeTopologyTree(t *testing.T, root string, nodeProps map[uint32]map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "nodes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "generation_id"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "system_properties"), []byte("platform_oem 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for id, props := range nodeProps {
		dir := filepath.Join(root, "nodes", fmt.Sprint(id))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		var content string
		for k, v := range props {
			content += k + " " + v + "\n"
		}
		if err := os.WriteFile(filepath.Join(dir, "properties"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScannerSnapshotSingleCPUNode(t *testing.T) {
	root := t.TempDir()
	orig := sysfs.TopologyRoot
	sysfs.TopologyRoot = root
	defer func() { sysfs.TopologyRoot = orig }()

	writeTopologyTree(t, root, map[uint32]map[string]string{
		0: {"cpu_cores_count": "8", "simd_count": "0"},
	})

	s := NewScanner(&config.Config{MaxTopologyRetries: 5})
	topo, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(topo.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(topo.Nodes))
	}
	if topo.Nodes[0].IsGPU() {
		t.Fatal("expected CPU node")
	}
	if topo.SystemClockFreq == 0 {
		t.Fatal("expected nonzero system clock frequency")
	}
}

func TestScannerSnapshotReadsGPUID(t *testing.T) {
	root := t.TempDir()
	orig := sysfs.TopologyRoot
	sysfs.TopologyRoot = root
	defer func() { sysfs.TopologyRoot = orig }()

	writeTopologyTree(t, root, map[uint32]map[string]string{
		0: {"cpu_cores_count": "8", "simd_count": "0"},
		1: {"cpu_cores_count": "0", "simd_count": "64"},
	})
	if err := os.WriteFile(filepath.Join(root, "nodes", "1", "gpu_id"), []byte("4660\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(&config.Config{MaxTopologyRetries: 5})
	topo, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	gpuNode, ok := topo.NodeByID(1)
	if !ok {
		t.Fatal("node 1 not found")
	}
	if gpuNode.GPUID != 4660 {
		t.Fatalf("GPUID = %d, want 4660", gpuNode.GPUID)
	}

	cpuNode, ok := topo.NodeByID(0)
	if !ok {
		t.Fatal("node 0 not found")
	}
	if cpuNode.GPUID != 0 {
		t.Fatalf("CPU node GPUID = %d, want 0 (no gpu_id file)", cpuNode.GPUID)
	}
}

func TestDecodeLocationIDFromPackedValue(t *testing.T) {
	n := &Node{}
	loc := uint64(0x1234)
	decodeLocationID(n, sysfs.Properties{"location_id": loc})
	wantBus := uint32((loc >> 8) & 0xFF)
	devFn := uint32(loc & 0xFF)
	if n.Bus != wantBus || n.Device != devFn>>3 || n.Function != devFn&0x7 {
		t.Fatalf("got bus=%d device=%d function=%d", n.Bus, n.Device, n.Function)
	}
}

func TestDecodeLocationIDPrefersExplicitKeys(t *testing.T) {
	n := &Node{}
	decodeLocationID(n, sysfs.Properties{"bus": 3, "device": 1, "function": 2, "location_id": 0xFFFF})
	if n.Bus != 3 || n.Device != 1 || n.Function != 2 {
		t.Fatalf("got bus=%d device=%d function=%d", n.Bus, n.Device, n.Function)
	}
}
